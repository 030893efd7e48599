package cache

import "fmt"

const (
	PrefixSession  = "session"
	PrefixTemplate = "template"
)

func SessionKey(id string) string {
	return fmt.Sprintf("%s:%s", PrefixSession, id)
}

func SessionPattern() string {
	return PrefixSession + ":*"
}

func TemplateKey(id string) string {
	return fmt.Sprintf("%s:%s", PrefixTemplate, id)
}

func TemplatePattern() string {
	return PrefixTemplate + ":*"
}
