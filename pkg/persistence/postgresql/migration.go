package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE accounts (
				id BIGINT PRIMARY KEY,
				document JSONB NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE templates (
				id VARCHAR(64) PRIMARY KEY,
				account_id BIGINT NOT NULL,
				name VARCHAR(255) NOT NULL,
				document JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_templates_account_id ON templates(account_id);
			CREATE INDEX idx_templates_deleted_at ON templates(deleted_at);

			CREATE TABLE workflows (
				id VARCHAR(64) PRIMARY KEY,
				account_id BIGINT NOT NULL,
				template_id VARCHAR(64),
				status VARCHAR(20) NOT NULL CHECK (status IN ('running', 'delayed', 'done')),
				version BIGINT NOT NULL,
				next_resume_at TIMESTAMP WITH TIME ZONE,
				document JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_account_id ON workflows(account_id);
			CREATE INDEX idx_workflows_template_id ON workflows(template_id);
			CREATE INDEX idx_workflows_next_resume_at ON workflows(next_resume_at) WHERE deleted_at IS NULL;
		`,
		2: `
			CREATE TABLE attachments (
				id BIGINT PRIMARY KEY,
				account_id BIGINT NOT NULL,
				name VARCHAR(255) NOT NULL,
				url TEXT NOT NULL,
				field_id VARCHAR(64),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_attachments_account_id ON attachments(account_id);
			CREATE INDEX idx_attachments_field_id ON attachments(field_id);
		`,
	}
}
