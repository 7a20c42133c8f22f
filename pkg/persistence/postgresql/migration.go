package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Workflow definitions
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL,
				metadata JSONB,
				owner VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				published_at TIMESTAMP WITH TIME ZONE,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_status ON workflows(status);
			CREATE INDEX idx_workflows_created_at ON workflows(created_at);
			CREATE INDEX idx_workflows_deleted_at ON workflows(deleted_at);

			-- Ordered steps of each workflow
			CREATE TABLE workflow_steps (
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				kind VARCHAR(50) NOT NULL,
				name VARCHAR(255) NOT NULL,
				position INT NOT NULL,
				enabled BOOLEAN NOT NULL DEFAULT true,
				configuration JSONB DEFAULT '{}',
				PRIMARY KEY (workflow_id, id),
				UNIQUE (workflow_id, position)
			);

			CREATE INDEX idx_workflow_steps_workflow_id ON workflow_steps(workflow_id);

			-- Runs with their execution context snapshot
			CREATE TABLE runs (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id),
				status VARCHAR(50) NOT NULL,
				position INT NOT NULL DEFAULT 1,
				error_message TEXT,
				primary_output JSONB,
				context JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_runs_workflow_id ON runs(workflow_id);
			CREATE INDEX idx_runs_status ON runs(status);
			CREATE INDEX idx_runs_created_at ON runs(created_at);

			-- Approval requests, one row per approver per pausing step
			CREATE TABLE approval_requests (
				id VARCHAR(255) PRIMARY KEY,
				run_id VARCHAR(255) NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
				step_id VARCHAR(255) NOT NULL,
				token VARCHAR(255) NOT NULL UNIQUE,
				approver_name VARCHAR(255),
				approver_email VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				message TEXT,
				evidence_urls JSONB,
				auto_approve BOOLEAN NOT NULL DEFAULT false,
				comment TEXT,
				decided_at TIMESTAMP WITH TIME ZONE,
				expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
				context_snapshot JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_approval_requests_run_step ON approval_requests(run_id, step_id);
			CREATE INDEX idx_approval_requests_status_expires ON approval_requests(status, expires_at);

			-- Signature requests, unique per run and step
			CREATE TABLE signature_requests (
				id VARCHAR(255) PRIMARY KEY,
				run_id VARCHAR(255) NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
				step_id VARCHAR(255) NOT NULL,
				provider VARCHAR(255) NOT NULL,
				external_id VARCHAR(255),
				external_url TEXT,
				document_id VARCHAR(255) NOT NULL,
				signers JSONB,
				status VARCHAR(50) NOT NULL,
				blocking BOOLEAN NOT NULL DEFAULT false,
				expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (run_id, step_id)
			);

			CREATE INDEX idx_signature_requests_external ON signature_requests(provider, external_id);
			CREATE INDEX idx_signature_requests_status_expires ON signature_requests(status, expires_at);

			-- Generated document records; the unique key is what makes
			-- generation replay-safe
			CREATE TABLE generated_documents (
				id VARCHAR(255) PRIMARY KEY,
				run_id VARCHAR(255) NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
				step_id VARCHAR(255) NOT NULL,
				document_id VARCHAR(255) NOT NULL,
				name VARCHAR(255),
				url TEXT,
				pdf_id VARCHAR(255),
				pdf_url TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (run_id, step_id)
			);

			CREATE INDEX idx_generated_documents_run_id ON generated_documents(run_id);
		`,
	}
}
