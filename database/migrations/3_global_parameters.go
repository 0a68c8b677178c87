package dbmigs

import "github.com/go-pg/migrations/v8"

func init() {
	migrations.MustRegisterTx(func(db migrations.DB) error {
		// The parameter values are kept in the textual form together
		// with the declared type, following the stamped value model.
		_, err := db.Exec(`
			CREATE TABLE global_parameter4 (
				id BIGSERIAL NOT NULL,
				name TEXT NOT NULL,
				value TEXT NOT NULL,
				parameter_type SMALLINT NOT NULL,
				modification_ts TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT global_parameter4_pkey PRIMARY KEY (id)
			);
			CREATE INDEX global_parameter4_by_name ON global_parameter4 (name);
			CREATE TABLE global_parameter4_server (
				parameter_id BIGINT NOT NULL,
				server_id BIGINT NOT NULL,
				modification_ts TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT global_parameter4_server_pkey PRIMARY KEY (parameter_id, server_id),
				CONSTRAINT global_parameter4_server_parameter_id FOREIGN KEY (parameter_id)
					REFERENCES global_parameter4 (id) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE CASCADE,
				CONSTRAINT global_parameter4_server_server_id FOREIGN KEY (server_id)
					REFERENCES server4 (id) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE CASCADE
			);

			CREATE TABLE global_parameter6 (
				id BIGSERIAL NOT NULL,
				name TEXT NOT NULL,
				value TEXT NOT NULL,
				parameter_type SMALLINT NOT NULL,
				modification_ts TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT global_parameter6_pkey PRIMARY KEY (id)
			);
			CREATE INDEX global_parameter6_by_name ON global_parameter6 (name);
			CREATE TABLE global_parameter6_server (
				parameter_id BIGINT NOT NULL,
				server_id BIGINT NOT NULL,
				modification_ts TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT global_parameter6_server_pkey PRIMARY KEY (parameter_id, server_id),
				CONSTRAINT global_parameter6_server_parameter_id FOREIGN KEY (parameter_id)
					REFERENCES global_parameter6 (id) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE CASCADE,
				CONSTRAINT global_parameter6_server_server_id FOREIGN KEY (server_id)
					REFERENCES server6 (id) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE CASCADE
			);
		`)
		return err
	}, func(db migrations.DB) error {
		_, err := db.Exec(`
			DROP TABLE IF EXISTS global_parameter6_server;
			DROP TABLE IF EXISTS global_parameter6;
			DROP TABLE IF EXISTS global_parameter4_server;
			DROP TABLE IF EXISTS global_parameter4;
		`)
		return err
	})
}
