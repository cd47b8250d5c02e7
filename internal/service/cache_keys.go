package service

import "fmt"

// cacheKeys 同一安装实例下的缓存键
type cacheKeys struct {
	prefix string
}

func newCacheKeys(installationID string) cacheKeys {
	if installationID == "" {
		installationID = "default"
	}
	return cacheKeys{prefix: "supplier_feed:" + installationID}
}

func (k cacheKeys) token() string      { return k.prefix + ":token" }
func (k cacheKeys) feed() string       { return k.prefix + ":feed" }
func (k cacheKeys) lock() string       { return k.prefix + ":sync_lock" }
func (k cacheKeys) skuVersion() string { return k.prefix + ":sku_version" }

func (k cacheKeys) skuSet(version string) string {
	return fmt.Sprintf("%s:sku_set:%s", k.prefix, version)
}
