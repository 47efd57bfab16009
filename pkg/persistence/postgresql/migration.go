package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Append-only event streams. The unique (aggregate_id, version)
			-- constraint turns concurrent writers into conflict errors.
			CREATE TABLE events (
				event_id UUID PRIMARY KEY,
				aggregate_id VARCHAR(255) NOT NULL,
				aggregate_type VARCHAR(255) NOT NULL,
				event_type VARCHAR(255) NOT NULL,
				event_data JSONB NOT NULL DEFAULT '{}',
				tenant_id VARCHAR(255) NOT NULL,
				caused_by VARCHAR(255),
				occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
				version BIGINT NOT NULL CHECK (version >= 1),
				CONSTRAINT events_aggregate_version_unique UNIQUE (aggregate_id, version)
			);

			CREATE INDEX idx_events_aggregate ON events(aggregate_id, version);
			CREATE INDEX idx_events_occurred_at ON events(occurred_at);
			CREATE INDEX idx_events_tenant ON events(tenant_id);

			CREATE TABLE snapshots (
				aggregate_id VARCHAR(255) NOT NULL,
				aggregate_type VARCHAR(255) NOT NULL,
				version BIGINT NOT NULL,
				state BYTEA NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (aggregate_id, version)
			);

			CREATE TABLE workflow_graphs (
				id UUID PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'published', 'unpublished')),
				nodes JSONB NOT NULL DEFAULT '[]',
				edges JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				published_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_graphs_tenant ON workflow_graphs(tenant_id);
			CREATE INDEX idx_workflow_graphs_status ON workflow_graphs(status);

			CREATE TABLE workflow_triggers (
				id UUID PRIMARY KEY,
				graph_id UUID NOT NULL REFERENCES workflow_graphs(id) ON DELETE CASCADE,
				tenant_id VARCHAR(255) NOT NULL,
				trigger_type VARCHAR(50) NOT NULL,
				entity_type VARCHAR(255),
				field_name VARCHAR(255),
				filter_conditions JSONB,
				cron_expression VARCHAR(255),
				secret VARCHAR(255),
				is_active BOOLEAN NOT NULL DEFAULT true,
				next_run_at TIMESTAMP WITH TIME ZONE,
				last_run_at TIMESTAMP WITH TIME ZONE,
				run_count BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_triggers_graph ON workflow_triggers(graph_id);
			CREATE INDEX idx_workflow_triggers_active ON workflow_triggers(is_active);
			CREATE INDEX idx_workflow_triggers_next_run ON workflow_triggers(next_run_at)
				WHERE trigger_type = 'scheduled';

			CREATE TABLE workflow_executions (
				id UUID PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				graph_id UUID NOT NULL,
				trigger_id UUID,
				trigger_data JSONB NOT NULL DEFAULT '{}',
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed')),
				worker_id VARCHAR(255),
				queued_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				error_message TEXT
			);

			CREATE INDEX idx_workflow_executions_status ON workflow_executions(status, queued_at);
			CREATE INDEX idx_workflow_executions_graph ON workflow_executions(graph_id);

			CREATE TABLE dead_letters (
				id UUID PRIMARY KEY,
				event JSONB NOT NULL,
				handler VARCHAR(255) NOT NULL,
				error_message TEXT NOT NULL,
				retry_count INT NOT NULL DEFAULT 0,
				failed_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_dead_letters_handler ON dead_letters(handler);
		`,
	}
}
