package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteTemplate writes the annotated example configuration to path.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(Template), 0o600)
}

// Template is an example configuration listing every key with its default.
const Template = `# scpd listener
ae_title = "SCPD"
address = "0.0.0.0"
port = 11112

# services registered in order; the first to claim a context wins
services = ["verification", "storage"]

# storage
storage_dir = "local/storage"
bitbucket = false
stream_objects = true
# extra image syntaxes: jpeg_lossless, jpeg_lossy, rle, j2k_lossless, j2k_lossy
image_syntaxes = []

# dispatch
workers = 16
drain_timeout = "5s"
accept_rate = 0.0
accept_burst = 0

# transport
read_timeout = "30s"
write_timeout = "30s"
dimse_timeout = "0s"
max_pdu_bytes = 16777216
max_object_bytes = 536870912

# empty accepts any calling AE
allowed_calling_aes = []

# admin http
admin_addr = "127.0.0.1:7104"
cors_origins = []
recent_associations = 100

[tls]
enabled = false
mutual = false
cert_file = ""
key_file = ""
ca_file = ""
`
