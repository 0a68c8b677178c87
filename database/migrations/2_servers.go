package dbmigs

import "github.com/go-pg/migrations/v8"

func init() {
	migrations.MustRegisterTx(func(db migrations.DB) error {
		// The 'all' server is predefined. Configuration elements
		// associated with it apply to every server pulling the
		// configuration from this database.
		_, err := db.Exec(`
			CREATE TABLE server4 (
				id BIGSERIAL NOT NULL,
				tag TEXT NOT NULL,
				description TEXT,
				modification_ts TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT server4_pkey PRIMARY KEY (id),
				CONSTRAINT server4_tag_unique UNIQUE (tag)
			);
			CREATE TABLE server6 (
				id BIGSERIAL NOT NULL,
				tag TEXT NOT NULL,
				description TEXT,
				modification_ts TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT server6_pkey PRIMARY KEY (id),
				CONSTRAINT server6_tag_unique UNIQUE (tag)
			);
			INSERT INTO server4 (tag, description, modification_ts)
				VALUES ('all', 'special server entry matching all the servers', now());
			INSERT INTO server6 (tag, description, modification_ts)
				VALUES ('all', 'special server entry matching all the servers', now());
		`)
		return err
	}, func(db migrations.DB) error {
		_, err := db.Exec(`
			DROP TABLE IF EXISTS server6;
			DROP TABLE IF EXISTS server4;
		`)
		return err
	})
}
