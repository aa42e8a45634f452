// Package orders holds the cafe domain logic: the broadcaster-configurable
// menu, category chat-message templates, and template formatting.
package orders

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultMessages maps menu category to the chat template used when the
// broadcaster has not customized one.
var DefaultMessages = map[string]string{
	"Food":      "@{username} has ordered {item}. Enjoy your meal!",
	"Drink":     "@{username} has ordered {item}. Stay hydrated!",
	"Sub Combo": "@{username} ordered the special {item}!",
}

// fallbackTemplate is used when neither the broadcaster config nor the
// defaults know the category.
const fallbackTemplate = "☕ @{username} just ordered {item}!"

const (
	maxItemNameLen    = 50
	maxDescriptionLen = 200
)

// MenuItem is one orderable entry on the broadcaster's menu.
type MenuItem struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
}

// Config is the broadcaster configuration segment content.
type Config struct {
	MenuItems        []MenuItem        `json:"menuItems,omitempty"`
	CategoryMessages map[string]string `json:"categoryMessages,omitempty"`
}

// ParseConfig decodes the configuration service segment content. Empty
// content yields an empty config (segment never set).
func ParseConfig(content string) (*Config, error) {
	cfg := &Config{}
	if strings.TrimSpace(content) == "" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse broadcaster config: %w", err)
	}
	return cfg, nil
}

// Encode serializes the config for the configuration service.
func (c *Config) Encode() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Messages returns the broadcaster's category templates overlaid on the
// defaults, so a partial customization never loses default categories.
func (c *Config) Messages() map[string]string {
	merged := make(map[string]string, len(DefaultMessages)+len(c.CategoryMessages))
	for k, v := range DefaultMessages {
		merged[k] = v
	}
	for k, v := range c.CategoryMessages {
		if strings.TrimSpace(v) != "" {
			merged[k] = v
		}
	}
	return merged
}

// FindItem looks up a menu item by name, case-insensitive. nil when the menu
// does not define it (ordering off-menu items is allowed; they format with
// the fallback template).
func (c *Config) FindItem(name string) *MenuItem {
	for i := range c.MenuItems {
		if strings.EqualFold(c.MenuItems[i].Name, name) {
			return &c.MenuItems[i]
		}
	}
	return nil
}

// FormatMessage renders the chat message for an order from the category
// template, substituting {username} and {item}.
func FormatMessage(messages map[string]string, category, username, item string) string {
	template, ok := messages[category]
	if !ok {
		template = fallbackTemplate
	}
	msg := strings.ReplaceAll(template, "{username}", username)
	return strings.ReplaceAll(msg, "{item}", item)
}

// ValidateItem checks a menu item before it is accepted into the config.
// excludeID skips the item being edited in the duplicate check.
func ValidateItem(name, description string, existing []MenuItem, excludeID int) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("item name is required")
	}
	if len(name) > maxItemNameLen {
		return fmt.Errorf("item name exceeds %d characters", maxItemNameLen)
	}
	if strings.TrimSpace(description) == "" {
		return fmt.Errorf("item description is required")
	}
	if len(description) > maxDescriptionLen {
		return fmt.Errorf("item description exceeds %d characters", maxDescriptionLen)
	}
	for _, it := range existing {
		if it.ID != excludeID && strings.EqualFold(it.Name, name) {
			return fmt.Errorf("an item named %q already exists", name)
		}
	}
	return nil
}

// Validate checks a full broadcaster config before it is written.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.MenuItems))
	for _, it := range c.MenuItems {
		if err := ValidateItem(it.Name, it.Description, nil, 0); err != nil {
			return err
		}
		key := strings.ToLower(strings.TrimSpace(it.Name))
		if seen[key] {
			return fmt.Errorf("duplicate menu item %q", it.Name)
		}
		seen[key] = true
	}
	for category, template := range c.CategoryMessages {
		if strings.TrimSpace(template) == "" {
			return fmt.Errorf("empty template for category %q", category)
		}
		if !strings.Contains(template, "{item}") {
			return fmt.Errorf("template for category %q is missing the {item} placeholder", category)
		}
	}
	return nil
}
