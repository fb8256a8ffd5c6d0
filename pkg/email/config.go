package email

// Config holds receipt delivery settings. Without a Postmark server token
// receipts are only logged.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"EMAIL_SENDER" envDefault:"receipts@verdict.local"`
	SupportEmail         string `env:"EMAIL_SUPPORT" envDefault:"support@verdict.local"`
	ProductName          string `env:"EMAIL_PRODUCT_NAME" envDefault:"Verdict"`
}

// Enabled reports whether real delivery is configured.
func (c Config) Enabled() bool {
	return c.PostmarkServerToken != ""
}
