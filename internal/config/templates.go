package config

import (
	"fmt"
	"os"
)

// WriteTemplate writes the annotated default configuration to path.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(Template), 0o600)
}

const Template = `[serial]
port = "/dev/ttyS0"
baud_rate = 1200
data_bits = 7
read_timeout = "1s"

[influx]
url = "http://localhost:8086"
token = ""
org = "teleinfo"
bucket = "teleinfo"
retry_interval = "5s"
write_timeout = "10s"
reconnect_on_failure = false

[tags]
host = "raspberry"
region = "linky"

[labels]
integer = ["BASE", "IMAX", "HCHC", "IINST", "PAPP", "ISOUSC", "ADCO", "HCHP"]
checksum_exempt = ["MOTDETAT"]
# meter address, removed from every frame
identifier = "ADCO"

[frame]
# all-lines | terminator
checksum_policy = "all-lines"
resync = true

[mqtt]
# empty broker disables the mirror
broker = ""
client_id = "teleinfo"
topic = "teleinfo/frame"
qos = 0

[log]
file = "/var/log/teleinfo/releve.log"
level = "info"

[status]
# empty addr disables /metrics and /healthz
addr = ""
`
