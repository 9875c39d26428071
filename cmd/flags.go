package cmd

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// serveFlagKeys binds the preview server flags shared by `zat server` and
// `zat theme preview`.
var serveFlagKeys = map[string]string{
	"server.port":       "port",
	"server.host":       "host",
	"server.public_url": "public-url",
	"server.livereload": "livereload",
	"watch.enabled":     "watch",
}

func addServeFlags(flags *pflag.FlagSet) {
	flags.Int("port", 4567, "port to serve on")
	flags.String("host", "localhost", "interface to bind to")
	flags.String("public-url", "", "URL browsers reach the server at (default http://<host>:<port>)")
	flags.Bool("livereload", true, "push reloads to open previews")
	flags.Bool("watch", true, "watch files and rebuild on change")
}

// bindFlags binds each viper key to the flag of the same entry. Commands
// bind when they run, so that two commands can share a key without the
// last registered flag shadowing the other.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		flag := flags.Lookup(name)
		if flag == nil {
			return fmt.Errorf("no --%s flag to bind %s to", name, key)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return err
		}
	}
	return nil
}

func mergeKeys(sets ...map[string]string) map[string]string {
	merged := make(map[string]string)
	for _, set := range sets {
		for k, v := range set {
			merged[k] = v
		}
	}
	return merged
}
