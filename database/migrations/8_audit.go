package dbmigs

import "github.com/go-pg/migrations/v8"

func init() {
	migrations.MustRegisterTx(func(db migrations.DB) error {
		// Each mutating transaction creates one revision row and one
		// audit row per touched object. The audit feed is ordered by
		// (modification_ts, revision id), so the revision id breaks the
		// ties between the transactions committed within one clock
		// tick.
		_, err := db.Exec(`
			CREATE TABLE audit_revision4 (
				id BIGSERIAL NOT NULL,
				modification_ts TIMESTAMP WITH TIME ZONE NOT NULL,
				log_message TEXT,
				server_id BIGINT,
				CONSTRAINT audit_revision4_pkey PRIMARY KEY (id),
				CONSTRAINT audit_revision4_server_id FOREIGN KEY (server_id)
					REFERENCES server4 (id) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE SET NULL
			);
			CREATE INDEX audit_revision4_by_modification_ts ON audit_revision4 (modification_ts);
			CREATE TABLE audit4 (
				id BIGSERIAL NOT NULL,
				object_type TEXT NOT NULL,
				object_id BIGINT NOT NULL,
				modification_type SMALLINT NOT NULL,
				revision_id BIGINT NOT NULL,
				CONSTRAINT audit4_pkey PRIMARY KEY (id),
				CONSTRAINT audit4_revision_id FOREIGN KEY (revision_id)
					REFERENCES audit_revision4 (id) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE CASCADE
			);
			CREATE INDEX audit4_by_revision_id ON audit4 (revision_id);

			CREATE TABLE audit_revision6 (
				id BIGSERIAL NOT NULL,
				modification_ts TIMESTAMP WITH TIME ZONE NOT NULL,
				log_message TEXT,
				server_id BIGINT,
				CONSTRAINT audit_revision6_pkey PRIMARY KEY (id),
				CONSTRAINT audit_revision6_server_id FOREIGN KEY (server_id)
					REFERENCES server6 (id) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE SET NULL
			);
			CREATE INDEX audit_revision6_by_modification_ts ON audit_revision6 (modification_ts);
			CREATE TABLE audit6 (
				id BIGSERIAL NOT NULL,
				object_type TEXT NOT NULL,
				object_id BIGINT NOT NULL,
				modification_type SMALLINT NOT NULL,
				revision_id BIGINT NOT NULL,
				CONSTRAINT audit6_pkey PRIMARY KEY (id),
				CONSTRAINT audit6_revision_id FOREIGN KEY (revision_id)
					REFERENCES audit_revision6 (id) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE CASCADE
			);
			CREATE INDEX audit6_by_revision_id ON audit6 (revision_id);
		`)
		return err
	}, func(db migrations.DB) error {
		_, err := db.Exec(`
			DROP TABLE IF EXISTS audit6;
			DROP TABLE IF EXISTS audit_revision6;
			DROP TABLE IF EXISTS audit4;
			DROP TABLE IF EXISTS audit_revision4;
		`)
		return err
	})
}
