package environment

import "strings"

// Environment is the deployment flavour the engine runs in.
// Production is the only value that locks audit records against mutation.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
	Test        Environment = "test"
)

// Parse maps the usual short spellings onto the canonical values.
// Unknown values are returned as is, lower-cased.
func Parse(s string) Environment {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "prod", "production":
		return Production
	case "stage", "staging":
		return Staging
	case "dev", "development", "local":
		return Development
	case "test", "testing":
		return Test
	}
	return Environment(v)
}

// IsProduction reports whether e denotes a production deployment.
func (e Environment) IsProduction() bool {
	return Parse(string(e)) == Production
}

// IsTest reports whether e denotes an automated test run.
func (e Environment) IsTest() bool {
	return Parse(string(e)) == Test
}

func (e Environment) String() string {
	return string(e)
}

// Config reads the environment from APP_ENV.
type Config struct {
	Name string `env:"APP_ENV" envDefault:"development"`
}

// Environment returns the parsed value of the config.
func (c Config) Environment() Environment {
	return Parse(c.Name)
}
