package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE organizations (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL DEFAULT '',
				api_service_level VARCHAR(32) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE workflows (
				id UUID PRIMARY KEY,
				environment_id VARCHAR(64) NOT NULL,
				organization_id VARCHAR(64) NOT NULL,
				identifier VARCHAR(128) NOT NULL,
				name VARCHAR(255) NOT NULL,
				active BOOLEAN NOT NULL DEFAULT true,
				critical BOOLEAN NOT NULL DEFAULT false,
				payload_schema JSONB,
				steps JSONB NOT NULL DEFAULT '[]',
				tags JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE UNIQUE INDEX idx_workflows_environment_identifier ON workflows(environment_id, identifier) WHERE deleted_at IS NULL;
			CREATE INDEX idx_workflows_organization_id ON workflows(organization_id);

			CREATE TABLE subscribers (
				id UUID PRIMARY KEY,
				environment_id VARCHAR(64) NOT NULL,
				organization_id VARCHAR(64) NOT NULL,
				subscriber_id VARCHAR(256) NOT NULL,
				first_name VARCHAR(255) NOT NULL DEFAULT '',
				last_name VARCHAR(255) NOT NULL DEFAULT '',
				email VARCHAR(320) NOT NULL DEFAULT '',
				phone VARCHAR(64) NOT NULL DEFAULT '',
				avatar TEXT NOT NULL DEFAULT '',
				locale VARCHAR(32) NOT NULL DEFAULT '',
				timezone VARCHAR(64) NOT NULL DEFAULT '',
				data JSONB,
				channels JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			-- the real guard against concurrent double creation
			CREATE UNIQUE INDEX idx_subscribers_environment_subscriber ON subscribers(environment_id, subscriber_id) WHERE deleted_at IS NULL;

			CREATE TABLE tenants (
				id UUID PRIMARY KEY,
				environment_id VARCHAR(64) NOT NULL,
				identifier VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				data JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (environment_id, identifier)
			);

			CREATE TABLE integrations (
				id UUID PRIMARY KEY,
				environment_id VARCHAR(64) NOT NULL,
				organization_id VARCHAR(64) NOT NULL DEFAULT '',
				provider_id VARCHAR(128) NOT NULL,
				channel VARCHAR(32) NOT NULL,
				active BOOLEAN NOT NULL DEFAULT false,
				is_primary BOOLEAN NOT NULL DEFAULT false,
				credentials JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_integrations_environment_channel ON integrations(environment_id, channel) WHERE active;
		`,
		2: `
			CREATE TABLE notifications (
				id UUID PRIMARY KEY,
				environment_id VARCHAR(64) NOT NULL,
				organization_id VARCHAR(64) NOT NULL,
				transaction_id VARCHAR(256) NOT NULL,
				workflow_id VARCHAR(64) NOT NULL,
				workflow_identifier VARCHAR(128) NOT NULL,
				payload JSONB,
				tenant JSONB,
				actor_id VARCHAR(256),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (environment_id, transaction_id)
			);

			CREATE TABLE jobs (
				id UUID PRIMARY KEY,
				type VARCHAR(32) NOT NULL,
				status VARCHAR(32) NOT NULL,
				environment_id VARCHAR(64) NOT NULL,
				organization_id VARCHAR(64) NOT NULL,
				user_id VARCHAR(64),
				notification_id VARCHAR(64) NOT NULL,
				transaction_id VARCHAR(256) NOT NULL,
				workflow_id VARCHAR(64) NOT NULL,
				workflow_identifier VARCHAR(128) NOT NULL,
				step_id VARCHAR(128) NOT NULL,
				step JSONB NOT NULL,
				subscriber_id VARCHAR(256) NOT NULL,
				provider_id VARCHAR(128),
				depends_on VARCHAR(64),
				payload JSONB,
				overrides JSONB,
				tenant JSONB,
				actor JSONB,
				bridge_url TEXT,
				digest JSONB,
				digest_value VARCHAR(512),
				outputs JSONB,
				attempts INTEGER NOT NULL DEFAULT 0,
				max_attempts INTEGER NOT NULL DEFAULT 3,
				error TEXT,
				scheduled_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_jobs_transaction ON jobs(environment_id, transaction_id, subscriber_id);
			CREATE INDEX idx_jobs_depends_on ON jobs(depends_on) WHERE depends_on IS NOT NULL;
			CREATE INDEX idx_jobs_status_scheduled_at ON jobs(status, scheduled_at);

			-- at most one open digest per key
			CREATE UNIQUE INDEX idx_jobs_open_digest ON jobs(environment_id, workflow_id, step_id, digest_value)
				WHERE type = 'digest' AND status = 'delayed';
		`,
		3: `
			CREATE TABLE execution_details (
				id UUID PRIMARY KEY,
				environment_id VARCHAR(64) NOT NULL,
				organization_id VARCHAR(64) NOT NULL,
				subscriber_id VARCHAR(256) NOT NULL DEFAULT '',
				job_id VARCHAR(64),
				notification_id VARCHAR(64) NOT NULL,
				transaction_id VARCHAR(256) NOT NULL,
				channel VARCHAR(32),
				provider_id VARCHAR(128),
				detail VARCHAR(64) NOT NULL,
				source VARCHAR(32) NOT NULL,
				status VARCHAR(32) NOT NULL,
				is_test BOOLEAN NOT NULL DEFAULT false,
				is_retry BOOLEAN NOT NULL DEFAULT false,
				raw TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_execution_details_transaction ON execution_details(environment_id, transaction_id, created_at);
			CREATE INDEX idx_execution_details_notification ON execution_details(notification_id);
			CREATE INDEX idx_execution_details_job ON execution_details(job_id);

			CREATE TABLE messages (
				id UUID PRIMARY KEY,
				environment_id VARCHAR(64) NOT NULL,
				organization_id VARCHAR(64) NOT NULL,
				job_id VARCHAR(64) NOT NULL,
				notification_id VARCHAR(64) NOT NULL,
				transaction_id VARCHAR(256) NOT NULL,
				subscriber_id VARCHAR(256) NOT NULL,
				channel VARCHAR(32) NOT NULL,
				provider_id VARCHAR(128) NOT NULL DEFAULT '',
				content JSONB,
				provider_message_id VARCHAR(255),
				status VARCHAR(32) NOT NULL,
				seen BOOLEAN NOT NULL DEFAULT false,
				read BOOLEAN NOT NULL DEFAULT false,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE UNIQUE INDEX idx_messages_job ON messages(job_id);
			CREATE INDEX idx_messages_subscriber ON messages(environment_id, subscriber_id, channel, created_at);
		`,
	}
}
