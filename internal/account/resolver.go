// Package account turns the whatsapp config block into resolved accounts.
package account

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"wabridge/internal/config"
	"wabridge/internal/domain"
)

// DefaultName is the synthetic account created from a flat config block.
const DefaultName = "default"

// Resolve produces one Account per configured entry. Credential files are
// read on every call; nothing is cached between calls.
func Resolve(cfg config.ChannelConfig) ([]domain.Account, error) {
	if len(cfg.Accounts) == 0 {
		acct, err := resolveOne(DefaultName, cfg, config.AccountConfig{})
		if err != nil {
			return nil, err
		}
		return []domain.Account{acct}, nil
	}

	names := slices.Sorted(maps.Keys(cfg.Accounts))
	accounts := make([]domain.Account, 0, len(names))
	for _, name := range names {
		acct, err := resolveOne(name, cfg, cfg.Accounts[name])
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}

	if cfg.DefaultAccount != "" && !slices.Contains(names, cfg.DefaultAccount) {
		return nil, domain.ConfigErrorf("defaultAccount %q does not match any configured account (have: %s)",
			cfg.DefaultAccount, strings.Join(names, ", "))
	}
	return accounts, nil
}

// DefaultAccountName returns the configured default account if it exists, else the
// first resolved account. Empty when accounts is empty.
func DefaultAccountName(cfg config.ChannelConfig, accounts []domain.Account) string {
	if cfg.DefaultAccount != "" {
		for _, a := range accounts {
			if a.Name == cfg.DefaultAccount {
				return a.Name
			}
		}
	}
	if len(accounts) > 0 {
		return accounts[0].Name
	}
	return ""
}

func resolveOne(name string, parent config.ChannelConfig, ac config.AccountConfig) (domain.Account, error) {
	apiKey, err := resolveCredential(name,
		pick(ac.APIKey, parent.APIKey),
		pick(ac.APIKeyFile, parent.APIKeyFile))
	if err != nil {
		return domain.Account{}, err
	}

	appID := pick(ac.AppID, parent.AppID)
	if appID == "" {
		return domain.Account{}, domain.ConfigErrorf("account %q: appId is required", name)
	}

	phone := domain.NormalizePhone(pick(ac.PhoneNumber, parent.PhoneNumber))
	if phone == "" {
		return domain.Account{}, domain.ConfigErrorf("account %q: phoneNumber is required", name)
	}

	templates := ac.Templates
	if len(templates) == 0 {
		templates = parent.Templates
	}

	return domain.Account{
		Name:          name,
		APIKey:        apiKey,
		AppID:         appID,
		PhoneNumber:   phone,
		DisplayName:   pick(ac.DisplayName, parent.DisplayName),
		WebhookSecret: pick(ac.WebhookSecret, parent.WebhookSecret),
		Templates:     maps.Clone(templates),
	}, nil
}

// resolveCredential prefers the direct value; otherwise it reads and trims
// the file at path.
func resolveCredential(name, value, path string) (string, error) {
	if value = strings.TrimSpace(value); value != "" {
		return value, nil
	}
	if path == "" {
		return "", domain.ConfigErrorf("account %q: apiKey or apiKeyFile is required", name)
	}

	path = config.ExpandPath(os.ExpandEnv(path))
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &domain.ConfigurationError{Msg: fmt.Sprintf("account %q: cannot read apiKeyFile %s: %v", name, path, err)}
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", domain.ConfigErrorf("account %q: apiKeyFile %s is empty", name, path)
	}
	return key, nil
}

func pick(child, parent string) string {
	if child != "" {
		return child
	}
	return parent
}
