// Package providers imports all WAF backend packages to trigger their init() registration.
package providers

import (
	_ "github.com/yuriy-kovalchuk/yk-waf-manager/internal/waf/cloudflare"
)
