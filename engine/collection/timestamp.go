package collection

import "time"

const timestampLayout = "20060102150405"

func timestampSuffix() string {
	return time.Now().UTC().Format(timestampLayout)
}
