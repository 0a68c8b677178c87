package dbmigs

import "github.com/go-pg/migrations/v8"

func init() {
	migrations.MustRegisterTx(func(db migrations.DB) error {
		// The subnet id is assigned by the administrator and global for
		// a family, hence no sequence. A subnet detaches from a deleted
		// shared network instead of being dropped with it.
		_, err := db.Exec(`
			CREATE TABLE subnet4 (
				id BIGINT NOT NULL,
				prefix CIDR NOT NULL,
				shared_network_name TEXT,
				interface TEXT,
				client_class TEXT,
				relay JSONB,
				renew_timer BIGINT,
				rebind_timer BIGINT,
				valid_lifetime BIGINT,
				user_context JSONB,
				modification_ts TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT subnet4_pkey PRIMARY KEY (id),
				CONSTRAINT subnet4_prefix_unique UNIQUE (prefix),
				CONSTRAINT subnet4_shared_network_name FOREIGN KEY (shared_network_name)
					REFERENCES shared_network4 (name) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE SET NULL
			);
			CREATE TABLE subnet4_server (
				subnet_id BIGINT NOT NULL,
				server_id BIGINT NOT NULL,
				modification_ts TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT subnet4_server_pkey PRIMARY KEY (subnet_id, server_id),
				CONSTRAINT subnet4_server_subnet_id FOREIGN KEY (subnet_id)
					REFERENCES subnet4 (id) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE CASCADE,
				CONSTRAINT subnet4_server_server_id FOREIGN KEY (server_id)
					REFERENCES server4 (id) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE CASCADE
			);
			CREATE TABLE address_pool4 (
				id BIGSERIAL NOT NULL,
				start_address INET NOT NULL,
				end_address INET NOT NULL,
				subnet_id BIGINT NOT NULL,
				client_class TEXT,
				user_context JSONB,
				modification_ts TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT address_pool4_pkey PRIMARY KEY (id),
				CONSTRAINT address_pool4_subnet_id FOREIGN KEY (subnet_id)
					REFERENCES subnet4 (id) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE CASCADE
			);
			CREATE INDEX address_pool4_by_subnet_id ON address_pool4 (subnet_id);

			CREATE TABLE subnet6 (
				id BIGINT NOT NULL,
				prefix CIDR NOT NULL,
				shared_network_name TEXT,
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
				CONSTRAINT subnet6_pkey PRIMARY KEY (id),
				CONSTRAINT subnet6_prefix_unique UNIQUE (prefix),
				CONSTRAINT subnet6_shared_network_name FOREIGN KEY (shared_network_name)
					REFERENCES shared_network6 (name) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE SET NULL
			);
			CREATE TABLE subnet6_server (
				subnet_id BIGINT NOT NULL,
				server_id BIGINT NOT NULL,
				modification_ts TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT subnet6_server_pkey PRIMARY KEY (subnet_id, server_id),
				CONSTRAINT subnet6_server_subnet_id FOREIGN KEY (subnet_id)
					REFERENCES subnet6 (id) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE CASCADE,
				CONSTRAINT subnet6_server_server_id FOREIGN KEY (server_id)
					REFERENCES server6 (id) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE CASCADE
			);
			CREATE TABLE address_pool6 (
				id BIGSERIAL NOT NULL,
				start_address INET NOT NULL,
				end_address INET NOT NULL,
				subnet_id BIGINT NOT NULL,
				client_class TEXT,
				user_context JSONB,
				modification_ts TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT address_pool6_pkey PRIMARY KEY (id),
				CONSTRAINT address_pool6_subnet_id FOREIGN KEY (subnet_id)
					REFERENCES subnet6 (id) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE CASCADE
			);
			CREATE INDEX address_pool6_by_subnet_id ON address_pool6 (subnet_id);
			CREATE TABLE prefix_pool6 (
				id BIGSERIAL NOT NULL,
				prefix INET NOT NULL,
				prefix_len SMALLINT NOT NULL,
				delegated_len SMALLINT NOT NULL,
				excluded_prefix INET,
				excluded_prefix_len SMALLINT,
				subnet_id BIGINT NOT NULL,
				client_class TEXT,
				user_context JSONB,
				modification_ts TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT prefix_pool6_pkey PRIMARY KEY (id),
				CONSTRAINT prefix_pool6_subnet_id FOREIGN KEY (subnet_id)
					REFERENCES subnet6 (id) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE CASCADE
			);
			CREATE INDEX prefix_pool6_by_subnet_id ON prefix_pool6 (subnet_id);
		`)
		return err
	}, func(db migrations.DB) error {
		_, err := db.Exec(`
			DROP TABLE IF EXISTS prefix_pool6;
			DROP TABLE IF EXISTS address_pool6;
			DROP TABLE IF EXISTS subnet6_server;
			DROP TABLE IF EXISTS subnet6;
			DROP TABLE IF EXISTS address_pool4;
			DROP TABLE IF EXISTS subnet4_server;
			DROP TABLE IF EXISTS subnet4;
		`)
		return err
	})
}
