package conf

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeyAnnotation marks a flag with the settings key it overrides.
const flagKeyAnnotation = "tricam/config-key"

// BindFlag records that flag name overrides the settings key. Several
// commands may bind flags to the same key; only the flags of the command
// that actually runs are bound, by BindFlags.
func BindFlag(flags *pflag.FlagSet, name, key string) {
	if err := flags.SetAnnotation(name, flagKeyAnnotation, []string{key}); err != nil {
		panic(fmt.Sprintf("binding unknown flag %q: %v", name, err))
	}
}

// BindFlags binds every annotated flag in flags to viper so Load gives
// explicitly set flags precedence over the file and environment.
func BindFlags(flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		keys := f.Annotations[flagKeyAnnotation]
		if len(keys) == 0 || err != nil {
			return
		}
		if bindErr := viper.BindPFlag(keys[0], f); bindErr != nil {
			err = fmt.Errorf("error binding flag %s: %w", f.Name, bindErr)
		}
	})
	return err
}
