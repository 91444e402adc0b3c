// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("storage.root", "data")
	v.SetDefault("storage.masterfile", "aliases.master.yaml")
	v.SetDefault("storage.cachefile", "aliases.cache.bin")
	v.SetDefault("storage.maxfilesize", 64<<20)

	v.SetDefault("catalog.type", CatalogLabels)
	v.SetDefault("catalog.path", "labels.txt")

	v.SetDefault("index.signatures", true)
	v.SetDefault("index.qgram", 3)
	v.SetDefault("index.minhashseeds", 64)

	v.SetDefault("writebehind.sizethreshold", 5)
	v.SetDefault("writebehind.timethreshold", 30*time.Second)
	v.SetDefault("writebehind.flushtimeout", 30*time.Second)

	v.SetDefault("matcher.limit", 5)
	v.SetDefault("matcher.minscore", 0.0)
	v.SetDefault("matcher.memottl", 30*time.Second)
	v.SetDefault("matcher.signaturefallback", true)

	v.SetDefault("watcher.enabled", true)
	v.SetDefault("watcher.debounce", 500*time.Millisecond)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json", false)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.modulelevels", map[string]string{})

	v.SetDefault("telemetry.sentrydsn", "")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "")
}
