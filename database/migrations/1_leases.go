package dbmigs

import "github.com/go-pg/migrations/v8"

func init() {
	migrations.MustRegisterTx(func(db migrations.DB) error {
		_, err := db.Exec(`
			CREATE TABLE lease4 (
				address INET NOT NULL,
				hwaddr BYTEA,
				hwtype INT NOT NULL DEFAULT 1,
				client_id BYTEA,
				valid_lifetime BIGINT NOT NULL,
				cltt BIGINT NOT NULL,
				expire TIMESTAMP WITH TIME ZONE NOT NULL,
				renew_timer BIGINT NOT NULL DEFAULT 0,
				rebind_timer BIGINT NOT NULL DEFAULT 0,
				subnet_id BIGINT NOT NULL,
				pool_id BIGINT NOT NULL DEFAULT 0,
				fqdn_fwd BOOLEAN NOT NULL DEFAULT false,
				fqdn_rev BOOLEAN NOT NULL DEFAULT false,
				hostname TEXT NOT NULL DEFAULT '',
				state SMALLINT NOT NULL DEFAULT 0,
				user_context JSONB,
				modification_ts TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT lease4_pkey PRIMARY KEY (address)
			);
			CREATE INDEX lease4_by_hwaddr ON lease4 (hwaddr);
			CREATE INDEX lease4_by_client_id ON lease4 (client_id);
			CREATE INDEX lease4_by_subnet_id ON lease4 (subnet_id);
			CREATE INDEX lease4_by_state_expire ON lease4 (state, expire);
			CREATE INDEX lease4_by_modification_ts ON lease4 (modification_ts);

			CREATE TABLE lease6 (
				address INET NOT NULL,
				lease_type SMALLINT NOT NULL DEFAULT 0,
				prefix_len SMALLINT NOT NULL DEFAULT 128,
				duid BYTEA NOT NULL,
				iaid BIGINT NOT NULL,
				hwaddr BYTEA,
				hwtype INT NOT NULL DEFAULT 1,
				preferred_lifetime BIGINT NOT NULL DEFAULT 0,
				valid_lifetime BIGINT NOT NULL,
				cltt BIGINT NOT NULL,
				expire TIMESTAMP WITH TIME ZONE NOT NULL,
				renew_timer BIGINT NOT NULL DEFAULT 0,
				rebind_timer BIGINT NOT NULL DEFAULT 0,
				subnet_id BIGINT NOT NULL,
				pool_id BIGINT NOT NULL DEFAULT 0,
				fqdn_fwd BOOLEAN NOT NULL DEFAULT false,
				fqdn_rev BOOLEAN NOT NULL DEFAULT false,
				hostname TEXT NOT NULL DEFAULT '',
				state SMALLINT NOT NULL DEFAULT 0,
				user_context JSONB,
				modification_ts TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT lease6_pkey PRIMARY KEY (address, lease_type)
			);
			CREATE INDEX lease6_by_duid_iaid ON lease6 (duid, iaid);
			CREATE INDEX lease6_by_subnet_id ON lease6 (subnet_id);
			CREATE INDEX lease6_by_state_expire ON lease6 (state, expire);
			CREATE INDEX lease6_by_modification_ts ON lease6 (modification_ts);
		`)
		return err
	}, func(db migrations.DB) error {
		_, err := db.Exec(`
			DROP TABLE IF EXISTS lease6;
			DROP TABLE IF EXISTS lease4;
		`)
		return err
	})
}
