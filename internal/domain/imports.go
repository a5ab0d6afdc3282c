package domain

import (
	"strings"

	"github.com/google/uuid"
)

var (
	fileImportNamespace = uuid.MustParse("5f0f2b8e-4c0e-4a8b-9d4e-2a1f6c7d8e90")
	connectionNamespace = uuid.MustParse("9b7c1e62-3d4f-4f5a-8b6c-7d8e9fa0b1c2")
)

// FileImportID derives a reproducible import id from file content,
// so importing the same bytes twice targets the same records.
func FileImportID(content []byte) string {
	return uuid.NewSHA1(fileImportNamespace, content).String()
}

// ConnectionID derives a reproducible id for a platform account.
func ConnectionID(platform, address string) string {
	key := strings.ToLower(platform) + ":" + strings.ToLower(strings.TrimSpace(address))
	return uuid.NewSHA1(connectionNamespace, []byte(key)).String()
}

// Connection a platform account records are imported from.
type Connection struct {
	ID       string `json:"id"`
	Platform string `json:"platform"`
	Address  string `json:"address"`
	Label    string `json:"label,omitempty"`
}

// NewConnection builds a connection with its derived id.
func NewConnection(platform, address string) Connection {
	return Connection{
		ID:       ConnectionID(platform, address),
		Platform: strings.ToLower(platform),
		Address:  address,
	}
}

// FileImport metadata of one completed import.
type FileImport struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Parser     string      `json:"parser"`
	Platform   string      `json:"platform"`
	Rows       int         `json:"rows"`
	Logs       int         `json:"logs"`
	Txns       int         `json:"txns"`
	Assets     []string    `json:"assets"`
	Wallets    []string    `json:"wallets"`
	Operations []Operation `json:"operations"`
	Timestamp  int64       `json:"timestamp"`
}
