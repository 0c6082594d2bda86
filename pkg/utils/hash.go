package utils

import (
	"crypto/md5"
	"fmt"
)

// HashString derives short cache-key suffixes; not used for anything
// security-sensitive.
func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}
