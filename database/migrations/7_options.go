package dbmigs

import "github.com/go-pg/migrations/v8"

func init() {
	migrations.MustRegisterTx(func(db migrations.DB) error {
		// An option instance belongs to exactly one scope. The scope
		// identifiers follow the convention used by the DHCP option
		// inheritance: 0 global, 1 subnet, 4 shared network, 5 address
		// pool, 6 prefix pool. The check constraint ties the scope to
		// the owner column.
		_, err := db.Exec(`
			CREATE TABLE dhcp_option4 (
				id BIGSERIAL NOT NULL,
				code INT NOT NULL,
				value BYTEA,
				formatted_value TEXT,
				space TEXT NOT NULL,
				always_send BOOLEAN NOT NULL DEFAULT false,
				never_send BOOLEAN NOT NULL DEFAULT false,
				scope_id SMALLINT NOT NULL,
				subnet_id BIGINT,
				shared_network_name TEXT,
				pool_id BIGINT,
				user_context JSONB,
				modification_ts TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT dhcp_option4_pkey PRIMARY KEY (id),
				CONSTRAINT dhcp_option4_subnet_id FOREIGN KEY (subnet_id)
					REFERENCES subnet4 (id) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE CASCADE,
				CONSTRAINT dhcp_option4_shared_network_name FOREIGN KEY (shared_network_name)
					REFERENCES shared_network4 (name) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE CASCADE,
				CONSTRAINT dhcp_option4_pool_id FOREIGN KEY (pool_id)
					REFERENCES address_pool4 (id) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE CASCADE,
				CONSTRAINT dhcp_option4_scope CHECK (
					(scope_id = 0 AND subnet_id IS NULL AND shared_network_name IS NULL AND pool_id IS NULL) OR
					(scope_id = 1 AND subnet_id IS NOT NULL AND shared_network_name IS NULL AND pool_id IS NULL) OR
					(scope_id = 4 AND subnet_id IS NULL AND shared_network_name IS NOT NULL AND pool_id IS NULL) OR
					(scope_id = 5 AND subnet_id IS NULL AND shared_network_name IS NULL AND pool_id IS NOT NULL)
				)
			);
			CREATE TABLE dhcp_option4_server (
				option_id BIGINT NOT NULL,
				server_id BIGINT NOT NULL,
				modification_ts TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT dhcp_option4_server_pkey PRIMARY KEY (option_id, server_id),
				CONSTRAINT dhcp_option4_server_option_id FOREIGN KEY (option_id)
					REFERENCES dhcp_option4 (id) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE CASCADE,
				CONSTRAINT dhcp_option4_server_server_id FOREIGN KEY (server_id)
					REFERENCES server4 (id) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE CASCADE
			);

			CREATE TABLE dhcp_option6 (
				id BIGSERIAL NOT NULL,
				code INT NOT NULL,
				value BYTEA,
				formatted_value TEXT,
				space TEXT NOT NULL,
				always_send BOOLEAN NOT NULL DEFAULT false,
				never_send BOOLEAN NOT NULL DEFAULT false,
				scope_id SMALLINT NOT NULL,
				subnet_id BIGINT,
				shared_network_name TEXT,
				pool_id BIGINT,
				pd_pool_id BIGINT,
				user_context JSONB,
				modification_ts TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT dhcp_option6_pkey PRIMARY KEY (id),
				CONSTRAINT dhcp_option6_subnet_id FOREIGN KEY (subnet_id)
					REFERENCES subnet6 (id) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE CASCADE,
				CONSTRAINT dhcp_option6_shared_network_name FOREIGN KEY (shared_network_name)
					REFERENCES shared_network6 (name) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE CASCADE,
				CONSTRAINT dhcp_option6_pool_id FOREIGN KEY (pool_id)
					REFERENCES address_pool6 (id) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE CASCADE,
				CONSTRAINT dhcp_option6_pd_pool_id FOREIGN KEY (pd_pool_id)
					REFERENCES prefix_pool6 (id) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE CASCADE,
				CONSTRAINT dhcp_option6_scope CHECK (
					(scope_id = 0 AND subnet_id IS NULL AND shared_network_name IS NULL AND pool_id IS NULL AND pd_pool_id IS NULL) OR
					(scope_id = 1 AND subnet_id IS NOT NULL AND shared_network_name IS NULL AND pool_id IS NULL AND pd_pool_id IS NULL) OR
					(scope_id = 4 AND subnet_id IS NULL AND shared_network_name IS NOT NULL AND pool_id IS NULL AND pd_pool_id IS NULL) OR
					(scope_id = 5 AND subnet_id IS NULL AND shared_network_name IS NULL AND pool_id IS NOT NULL AND pd_pool_id IS NULL) OR
					(scope_id = 6 AND subnet_id IS NULL AND shared_network_name IS NULL AND pool_id IS NULL AND pd_pool_id IS NOT NULL)
				)
			);
			CREATE TABLE dhcp_option6_server (
				option_id BIGINT NOT NULL,
				server_id BIGINT NOT NULL,
				modification_ts TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT dhcp_option6_server_pkey PRIMARY KEY (option_id, server_id),
				CONSTRAINT dhcp_option6_server_option_id FOREIGN KEY (option_id)
					REFERENCES dhcp_option6 (id) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE CASCADE,
				CONSTRAINT dhcp_option6_server_server_id FOREIGN KEY (server_id)
					REFERENCES server6 (id) MATCH SIMPLE
					ON UPDATE CASCADE
					ON DELETE CASCADE
			);
		`)
		return err
	}, func(db migrations.DB) error {
		_, err := db.Exec(`
			DROP TABLE IF EXISTS dhcp_option6_server;
			DROP TABLE IF EXISTS dhcp_option6;
			DROP TABLE IF EXISTS dhcp_option4_server;
			DROP TABLE IF EXISTS dhcp_option4;
		`)
		return err
	})
}
