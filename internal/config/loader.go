package config

// LoadFromEnv loads the process configuration. Development builds (-tags dev)
// read a dotenv file first.
func LoadFromEnv() (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}
	return Load(FromEnviron())
}
