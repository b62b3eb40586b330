package cache

import "fmt"

// Memcache key namespaces, exactly as spec.md §6.
func metaGlobalKey(uid int64) string { return fmt.Sprintf("meta:global:%d", uid) }

func tabsSetKey(uid int64) string { return fmt.Sprintf("tabs:%d", uid) }

func tabsItemKey(uid int64, id string) string { return fmt.Sprintf("tabs:%d:%s", uid, id) }

func tabsSizeKey(uid int64, id string) string { return fmt.Sprintf("tabs:size:%d:%s", uid, id) }

func tabsStampKey(uid int64) string { return fmt.Sprintf("tabs:stamp:%d", uid) }

func collectionStampKey(uid int64, name string) string {
	return fmt.Sprintf("collections:stamp:%d:%s", uid, name)
}
