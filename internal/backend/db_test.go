package backend_test

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"procodus.dev/sensor-telemetry/internal/backend"
)

var _ = Describe("Database", func() {
	Describe("NewDB", func() {
		Context("with invalid configuration", func() {
			It("should return error when config is nil", func() {
				db, err := backend.NewDB(nil)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("config cannot be nil"))
				Expect(db).To(BeNil())
			})

			It("should return error when logger is nil", func() {
				db, err := backend.NewDB(&backend.DBConfig{Path: "x.db"})
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("logger"))
				Expect(db).To(BeNil())
			})

			DescribeTable("should validate driver settings",
				func(cfg backend.DBConfig, substr string) {
					cfg.Logger = testLogger()
					db, err := backend.NewDB(&cfg)
					Expect(err).To(MatchError(ContainSubstring(substr)))
					Expect(db).To(BeNil())
				},
				Entry("unknown driver", backend.DBConfig{Driver: "oracle"}, "unsupported database driver"),
				Entry("sqlite without path", backend.DBConfig{Driver: backend.DriverSQLite}, "sqlite path"),
				Entry("postgres without host", backend.DBConfig{Driver: backend.DriverPostgres, Port: 5432, User: "u", DBName: "d"}, "host"),
				Entry("postgres without port", backend.DBConfig{Driver: backend.DriverPostgres, Host: "h", User: "u", DBName: "d"}, "port"),
				Entry("postgres without user", backend.DBConfig{Driver: backend.DriverPostgres, Host: "h", Port: 5432, DBName: "d"}, "user"),
				Entry("postgres without dbname", backend.DBConfig{Driver: backend.DriverPostgres, Host: "h", Port: 5432, User: "u"}, "name"),
			)
		})

		Context("connection validation", func() {
			It("should fail when postgres is unreachable", func() {
				db, err := backend.NewDB(&backend.DBConfig{
					Logger:   testLogger(),
					Driver:   backend.DriverPostgres,
					Host:     "localhost",
					Port:     9999,
					User:     "test",
					Password: "password",
					DBName:   "testdb",
				})
				Expect(err).To(HaveOccurred())
				Expect(db).To(BeNil())
			})

			It("should fail when the sqlite directory does not exist", func() {
				db, err := backend.NewDB(&backend.DBConfig{
					Logger: testLogger(),
					Path:   filepath.Join(GinkgoT().TempDir(), "missing", "dir", "readings.db"),
				})
				Expect(err).To(HaveOccurred())
				Expect(db).To(BeNil())
			})
		})

		Context("with sqlite", func() {
			It("should default to the sqlite driver", func() {
				cfg := &backend.DBConfig{Path: "readings.db"}
				dialector, err := cfg.Dialector()
				Expect(err).NotTo(HaveOccurred())
				Expect(dialector.Name()).To(Equal("sqlite"))
			})

			It("should create the readings table", func() {
				db, _ := openSQLite()
				Expect(db.Migrator().HasTable("readings")).To(BeTrue())

				for _, column := range []string{
					"id", "timestamp", "latitude", "longitude", "flame",
					"smoke", "distance", "acc_x", "acc_y", "acc_z",
				} {
					Expect(db.Migrator().HasColumn(&backend.Reading{}, column)).To(BeTrue(), column)
				}
			})

			It("should keep existing rows when opened again", func() {
				db, cfg := openSQLite()
				store, err := backend.NewSQLStore(db, nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(store.Insert(context.Background(), &backend.Reading{Timestamp: "t1", Smoke: 4})).To(Succeed())

				again, err := backend.NewDB(cfg)
				Expect(err).NotTo(HaveOccurred())
				defer func() { _ = backend.CloseDB(again, testLogger()) }()

				var count int64
				Expect(again.Model(&backend.Reading{}).Count(&count).Error).To(Succeed())
				Expect(count).To(Equal(int64(1)))
			})

			It("should leave a pre-existing table schema untouched", func() {
				path := filepath.Join(GinkgoT().TempDir(), "legacy.db")
				legacy, err := backend.NewDB(&backend.DBConfig{Logger: testLogger(), Path: path})
				Expect(err).NotTo(HaveOccurred())
				Expect(legacy.Exec("ALTER TABLE readings ADD COLUMN note TEXT").Error).To(Succeed())
				Expect(backend.CloseDB(legacy, testLogger())).To(Succeed())

				db, err := backend.NewDB(&backend.DBConfig{Logger: testLogger(), Path: path})
				Expect(err).NotTo(HaveOccurred())
				defer func() { _ = backend.CloseDB(db, testLogger()) }()

				Expect(db.Migrator().HasColumn("readings", "note")).To(BeTrue())
			})
		})
	})

	Describe("CloseDB", func() {
		It("should accept a nil database", func() {
			Expect(backend.CloseDB(nil, testLogger())).To(Succeed())
		})
	})
})
