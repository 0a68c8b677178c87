package dbmigs

import "github.com/go-pg/migrations/v8"

func init() {
	migrations.MustRegisterTx(func(db migrations.DB) error {
		// The reservations travel with their subnet as a JSONB document.
		// They are always read and written together with the subnet, so
		// a separate table would only add joins.
		_, err := db.Exec(`
			ALTER TABLE subnet4
				ADD COLUMN allocator TEXT,
				ADD COLUMN allocation_retries BIGINT,
				ADD COLUMN reservations JSONB;
			ALTER TABLE subnet6
				ADD COLUMN allocator TEXT,
				ADD COLUMN pd_allocator TEXT,
				ADD COLUMN allocation_retries BIGINT,
				ADD COLUMN reservations JSONB;
			ALTER TABLE dhcp_option4
				ADD COLUMN client_classes JSONB;
			ALTER TABLE dhcp_option6
				ADD COLUMN client_classes JSONB;
		`)
		return err
	}, func(db migrations.DB) error {
		_, err := db.Exec(`
			ALTER TABLE dhcp_option6 DROP COLUMN IF EXISTS client_classes;
			ALTER TABLE dhcp_option4 DROP COLUMN IF EXISTS client_classes;
			ALTER TABLE subnet6
				DROP COLUMN IF EXISTS reservations,
				DROP COLUMN IF EXISTS allocation_retries,
				DROP COLUMN IF EXISTS pd_allocator,
				DROP COLUMN IF EXISTS allocator;
			ALTER TABLE subnet4
				DROP COLUMN IF EXISTS reservations,
				DROP COLUMN IF EXISTS allocation_retries,
				DROP COLUMN IF EXISTS allocator;
		`)
		return err
	})
}
