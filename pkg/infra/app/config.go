package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// load fills the options from the config file, the environment and flags.
func (a *App) load(cmd *cobra.Command) error {
	v := a.viper
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(a.name)
		v.SetConfigType("yaml")
		for _, dir := range []string{".", "configs", filepath.Join(os.Getenv("HOME"), "."+a.name), "/etc/" + a.name} {
			v.AddConfigPath(dir)
		}
	}

	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	switch {
	case err == nil:
		for _, key := range v.AllKeys() {
			if s, ok := v.Get(key).(string); ok && strings.Contains(s, "$") {
				v.Set(key, expandString(s))
			}
		}
	case errors.As(err, &notFound):
	default:
		return fmt.Errorf("read config: %w", err)
	}

	v.SetEnvPrefix(a.EnvPrefix())
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// An unchanged flag only supplies its default; a changed one wins.
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}
	if err := v.Unmarshal(a.options); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// expandString replaces $VAR and ${VAR} with their values. References to
// unset variables are kept as written.
func expandString(s string) string {
	var b strings.Builder
	for {
		i := strings.IndexByte(s, '$')
		if i < 0 || i == len(s)-1 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		name, width := envName(s[i+1:])
		ref := s[i : i+1+width]
		s = s[i+1+width:]

		if val, ok := os.LookupEnv(name); ok && name != "" {
			b.WriteString(val)
		} else {
			b.WriteString(ref)
		}
	}
}

// envName parses the variable name after '$' and returns it with the number
// of bytes it occupies, braces included.
func envName(s string) (string, int) {
	if strings.HasPrefix(s, "{") {
		end := strings.IndexByte(s, '}')
		if end < 0 {
			return "", 0
		}
		return s[1:end], end + 1
	}
	n := 0
	for n < len(s) {
		c := s[n]
		if c == '_' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || n > 0 && c >= '0' && c <= '9' {
			n++
			continue
		}
		break
	}
	return s[:n], n
}
