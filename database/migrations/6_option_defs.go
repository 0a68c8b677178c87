package dbmigs

import "github.com/go-pg/migrations/v8"

func init() {
	migrations.MustRegisterTx(func(db migrations.DB) error {
		_, err := db.Exec(`
			CREATE TABLE option_def4 (
				id BIGSERIAL NOT NULL,
				code INT NOT NULL,
				name TEXT NOT NULL,
				space TEXT NOT NULL,
				type SMALLINT NOT NULL,
				is_array BOOLEAN NOT NULL DEFAULT false,
				record_types TEXT,
				encapsulate TEXT,
				user_context JSONB,
				modification_ts TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT option_def4_pkey PRIMARY KEY (id),
				CONSTRAINT option_def4_code_space_unique UNIQUE (code, space)
			);
			CREATE TABLE option_def4_server (
				option_def_id BIGINT NOT NULL,
				server_id BIGINT NOT NULL,
				modification_ts TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT option_def4_server_pkey PRIMARY KEY (option_def_id, server_id),
				CONSTRAINT option_def4_server_option_def_id FOREIGN KEY (option_def_id)
					REFERENCES option_def4 (id) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE CASCADE,
				CONSTRAINT option_def4_server_server_id FOREIGN KEY (server_id)
					REFERENCES server4 (id) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE CASCADE
			);

			CREATE TABLE option_def6 (
				id BIGSERIAL NOT NULL,
				code INT NOT NULL,
				name TEXT NOT NULL,
				space TEXT NOT NULL,
				type SMALLINT NOT NULL,
				is_array BOOLEAN NOT NULL DEFAULT false,
				record_types TEXT,
				encapsulate TEXT,
				user_context JSONB,
				modification_ts TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT option_def6_pkey PRIMARY KEY (id),
				CONSTRAINT option_def6_code_space_unique UNIQUE (code, space)
			);
			CREATE TABLE option_def6_server (
				option_def_id BIGINT NOT NULL,
				server_id BIGINT NOT NULL,
				modification_ts TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT option_def6_server_pkey PRIMARY KEY (option_def_id, server_id),
				CONSTRAINT option_def6_server_option_def_id FOREIGN KEY (option_def_id)
					REFERENCES option_def6 (id) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE CASCADE,
				CONSTRAINT option_def6_server_server_id FOREIGN KEY (server_id)
					REFERENCES server6 (id) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE CASCADE
			);
		`)
		return err
	}, func(db migrations.DB) error {
		_, err := db.Exec(`
			DROP TABLE IF EXISTS option_def6_server;
			DROP TABLE IF EXISTS option_def6;
			DROP TABLE IF EXISTS option_def4_server;
			DROP TABLE IF EXISTS option_def4;
		`)
		return err
	})
}
