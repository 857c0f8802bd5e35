package config

// MpesaConfig carries the Daraja API credentials for the push-payment
// gateway. All fields except Environment are mandatory; the client fails
// fast before any network call when one is missing.
type MpesaConfig struct {
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	Environment    string // "sandbox" or "production"
}

// LoadMpesaConfig reads the gateway credentials from the environment.
func LoadMpesaConfig() MpesaConfig {
	return MpesaConfig{
		ConsumerKey:    GetEnv("MPESA_CONSUMER_KEY", ""),
		ConsumerSecret: GetEnv("MPESA_CONSUMER_SECRET", ""),
		ShortCode:      GetEnv("MPESA_SHORTCODE", ""),
		Passkey:        GetEnv("MPESA_PASSKEY", ""),
		CallbackURL:    GetEnv("MPESA_CALLBACK_URL", ""),
		Environment:    GetEnv("MPESA_ENV", "sandbox"),
	}
}
