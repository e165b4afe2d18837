package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"untisfeed/internal/config"
)

// validFile writes a minimal valid token-mode config and returns its path.
func validFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := config.DefaultConfig()
	cfg.Server = "peleus.webuntis.com"
	cfg.Token = "tok"
	if err := config.Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	Convey("Given the default configuration", t, func() {
		cfg := config.DefaultConfig()

		Convey("Then the pipeline defaults are set", func() {
			So(cfg.Weeks, ShouldEqual, 4)
			So(cfg.Output, ShouldEqual, "webuntis_calendar.ics")
			So(cfg.Timezone, ShouldEqual, "Europe/Berlin")
			So(cfg.Listen, ShouldEqual, "127.0.0.1:8080")
			So(cfg.RefreshCron, ShouldEqual, "*/30 * * * *")
			So(cfg.LoginMode, ShouldEqual, "sso")
			So(cfg.Headless, ShouldBeTrue)
		})
	})
}

func TestFirstRun(t *testing.T) {
	Convey("Given a config path that does not exist", t, func() {
		path := filepath.Join(t.TempDir(), "config.yaml")

		Convey("When loading", func() {
			_, err := config.Load(path)

			Convey("Then a default file is created and validation rejects it", func() {
				So(errors.Is(err, config.ErrConfig), ShouldBeTrue)
				info, serr := os.Stat(path)
				So(serr, ShouldBeNil)
				So(info.Mode().Perm(), ShouldEqual, os.FileMode(0o600))
			})
		})
	})
}

func TestValidation(t *testing.T) {
	Convey("Given a base token-mode config", t, func() {
		base := func() *config.Config {
			cfg := config.DefaultConfig()
			cfg.Server = "peleus.webuntis.com"
			cfg.Token = "tok"
			return cfg
		}

		Convey("Then the base config passes", func() {
			So(base().Validate(), ShouldBeNil)
		})

		Convey("Then a missing server fails", func() {
			cfg := base()
			cfg.Server = ""
			So(errors.Is(cfg.Validate(), config.ErrConfig), ShouldBeTrue)
		})

		Convey("Then missing credentials without a token fail", func() {
			cfg := base()
			cfg.Token = ""
			So(errors.Is(cfg.Validate(), config.ErrConfig), ShouldBeTrue)
		})

		Convey("Then sso mode requires a button label", func() {
			cfg := base()
			cfg.Token = ""
			cfg.Username = "student1"
			cfg.Password = "secret"
			cfg.LoginMode = "sso"
			So(errors.Is(cfg.Validate(), config.ErrConfig), ShouldBeTrue)
			cfg.SSOButton = "School Login"
			So(cfg.Validate(), ShouldBeNil)
		})

		Convey("Then rpc mode requires a school", func() {
			cfg := base()
			cfg.Token = ""
			cfg.Username = "student1"
			cfg.Password = "secret"
			cfg.LoginMode = "rpc"
			So(errors.Is(cfg.Validate(), config.ErrConfig), ShouldBeTrue)
			cfg.School = "demo-school"
			So(cfg.Validate(), ShouldBeNil)
		})

		Convey("Then out-of-range weeks fail", func() {
			cfg := base()
			cfg.Weeks = 53
			So(errors.Is(cfg.Validate(), config.ErrConfig), ShouldBeTrue)
		})

		Convey("Then an unknown timezone fails", func() {
			cfg := base()
			cfg.Timezone = "Mars/Olympus"
			So(errors.Is(cfg.Validate(), config.ErrConfig), ShouldBeTrue)
		})

		Convey("Then an upload target without endpoint fails", func() {
			cfg := base()
			cfg.Upload = &config.UploadConfig{Bucket: "feeds"}
			So(errors.Is(cfg.Validate(), config.ErrConfig), ShouldBeTrue)
		})
	})
}

func TestLoadLayers(t *testing.T) {
	Convey("Given a saved config file", t, func() {
		path := validFile(t)

		Convey("When loading it", func() {
			cfg, err := config.Load(path)

			Convey("Then file values and defaults merge", func() {
				So(err, ShouldBeNil)
				So(cfg.Server, ShouldEqual, "peleus.webuntis.com")
				So(cfg.Token, ShouldEqual, "tok")
				So(cfg.Weeks, ShouldEqual, 4)
			})
		})

		Convey("When environment overrides are present", func() {
			t.Setenv("UNTISFEED_WEEKS", "2")
			t.Setenv("UNTISFEED_LOG_LEVEL", "debug")
			cfg, err := config.Load(path)

			Convey("Then env wins over the file", func() {
				So(err, ShouldBeNil)
				So(cfg.Weeks, ShouldEqual, 2)
				So(cfg.LogLevel, ShouldEqual, "debug")
			})
		})
	})
}

func TestSaveRoundTrip(t *testing.T) {
	Convey("Given a fully populated config", t, func() {
		path := filepath.Join(t.TempDir(), "nested", "config.yaml")
		cfg := config.DefaultConfig()
		cfg.Server = "peleus.webuntis.com"
		cfg.School = "demo-school"
		cfg.Username = "student1"
		cfg.Password = "secret"
		cfg.LoginMode = "rpc"
		cfg.Weeks = 6
		cfg.BasicAuth = &config.BasicAuthConfig{Username: "feed", Password: "pw"}

		Convey("When saved and loaded back", func() {
			So(config.Save(path, cfg), ShouldBeNil)
			got, err := config.Load(path)

			Convey("Then the values survive and the file is private", func() {
				So(err, ShouldBeNil)
				So(got.Server, ShouldEqual, cfg.Server)
				So(got.School, ShouldEqual, cfg.School)
				So(got.LoginMode, ShouldEqual, "rpc")
				So(got.Weeks, ShouldEqual, 6)
				So(got.BasicAuth, ShouldNotBeNil)
				So(got.BasicAuth.Username, ShouldEqual, "feed")

				info, serr := os.Stat(path)
				So(serr, ShouldBeNil)
				So(info.Mode().Perm(), ShouldEqual, os.FileMode(0o600))
			})
		})
	})
}
