package dbmigs

import "github.com/go-pg/migrations/v8"

func init() {
	migrations.MustRegisterTx(func(db migrations.DB) error {
		// Other configuration elements reference a shared network by
		// name rather than by id, so renames cascade and deletes detach
		// the members.
		_, err := db.Exec(`
			CREATE TABLE shared_network4 (
				id BIGSERIAL NOT NULL,
				name TEXT NOT NULL,
				interface TEXT,
				client_class TEXT,
				relay JSONB,
				renew_timer BIGINT,
				rebind_timer BIGINT,
				valid_lifetime BIGINT,
				user_context JSONB,
				modification_ts TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT shared_network4_pkey PRIMARY KEY (id),
				CONSTRAINT shared_network4_name_unique UNIQUE (name)
			);
			CREATE TABLE shared_network4_server (
				shared_network_id BIGINT NOT NULL,
				server_id BIGINT NOT NULL,
				modification_ts TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT shared_network4_server_pkey PRIMARY KEY (shared_network_id, server_id),
				CONSTRAINT shared_network4_server_shared_network_id FOREIGN KEY (shared_network_id)
					REFERENCES shared_network4 (id) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE CASCADE,
				CONSTRAINT shared_network4_server_server_id FOREIGN KEY (server_id)
					REFERENCES server4 (id) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE CASCADE
			);

			CREATE TABLE shared_network6 (
				id BIGSERIAL NOT NULL,
				name TEXT NOT NULL,
				interface TEXT,
				client_class TEXT,
				relay JSONB,
				renew_timer BIGINT,
				rebind_timer BIGINT,
				preferred_lifetime BIGINT,
				valid_lifetime BIGINT,
				rapid_commit BOOLEAN,
				user_context JSONB,
				modification_ts TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT shared_network6_pkey PRIMARY KEY (id),
				CONSTRAINT shared_network6_name_unique UNIQUE (name)
			);
			CREATE TABLE shared_network6_server (
				shared_network_id BIGINT NOT NULL,
				server_id BIGINT NOT NULL,
				modification_ts TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT shared_network6_server_pkey PRIMARY KEY (shared_network_id, server_id),
				CONSTRAINT shared_network6_server_shared_network_id FOREIGN KEY (shared_network_id)
					REFERENCES shared_network6 (id) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE CASCADE,
				CONSTRAINT shared_network6_server_server_id FOREIGN KEY (server_id)
					REFERENCES server6 (id) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE CASCADE
			);
		`)
		return err
	}, func(db migrations.DB) error {
		_, err := db.Exec(`
			DROP TABLE IF EXISTS shared_network6_server;
			DROP TABLE IF EXISTS shared_network6;
			DROP TABLE IF EXISTS shared_network4_server;
			DROP TABLE IF EXISTS shared_network4;
		`)
		return err
	})
}
