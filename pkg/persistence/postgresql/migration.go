package postgresql

// migrations returns the versioned schema for the journey engine.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS journeys (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				nodes JSONB NOT NULL DEFAULT '[]',
				edges JSONB NOT NULL DEFAULT '[]',
				metadata JSONB,
				owner TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				published_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_journeys_status ON journeys (status);

			CREATE TABLE IF NOT EXISTS enrollments (
				id TEXT PRIMARY KEY,
				journey_id TEXT NOT NULL REFERENCES journeys (id),
				customer_id TEXT NOT NULL,
				status TEXT NOT NULL,
				current_node_id TEXT NOT NULL,
				entered_at TIMESTAMP WITH TIME ZONE NOT NULL,
				last_activity_at TIMESTAMP WITH TIME ZONE NOT NULL,
				node_entered_at TIMESTAMP WITH TIME ZONE NOT NULL,
				wake_at TIMESTAMP WITH TIME ZONE,
				metadata JSONB NOT NULL DEFAULT '{}',
				version BIGINT NOT NULL DEFAULT 1,
				lease_owner TEXT,
				lease_until TIMESTAMP WITH TIME ZONE,
				pending_message_id TEXT,
				waiting_event TEXT,
				waiting_attribute TEXT
			);

			CREATE INDEX IF NOT EXISTS idx_enrollments_due
				ON enrollments (status, wake_at);
			CREATE INDEX IF NOT EXISTS idx_enrollments_journey_status
				ON enrollments (journey_id, status);
			CREATE INDEX IF NOT EXISTS idx_enrollments_customer
				ON enrollments (journey_id, customer_id);
			CREATE INDEX IF NOT EXISTS idx_enrollments_pending_message
				ON enrollments (pending_message_id) WHERE pending_message_id IS NOT NULL;
			CREATE INDEX IF NOT EXISTS idx_enrollments_waiting_event
				ON enrollments (waiting_event) WHERE waiting_event IS NOT NULL;
			CREATE INDEX IF NOT EXISTS idx_enrollments_waiting_attribute
				ON enrollments (waiting_attribute) WHERE waiting_attribute IS NOT NULL;

			CREATE TABLE IF NOT EXISTS activity_log (
				id TEXT PRIMARY KEY,
				enrollment_id TEXT NOT NULL,
				journey_id TEXT NOT NULL,
				node_id TEXT,
				event_type TEXT NOT NULL,
				timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
				data JSONB
			);

			CREATE INDEX IF NOT EXISTS idx_activity_enrollment
				ON activity_log (enrollment_id, timestamp DESC);

			CREATE TABLE IF NOT EXISTS entry_keys (
				idempotency_key TEXT PRIMARY KEY,
				enrollment_id TEXT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);
		`,
	}
}
