package cache

import "context"

// DerivedKeyPatterns match every key this service can rebuild from the database.
var DerivedKeyPatterns = []string{
	"poll:*:results",
	"poll:*:voters",
	"polls:list*",
	"posts:list:*",
	"cache_lock:*",
}

// CleanPatterns deletes keys matching patterns using SCAN and returns how many
// were removed.
func CleanPatterns(ctx context.Context, client RedisClient, patterns []string) (int64, error) {
	var removed int64
	for _, pattern := range patterns {
		var cursor uint64
		for {
			keys, next, err := client.Scan(ctx, cursor, pattern, 200).Result()
			if err != nil {
				return removed, err
			}
			if len(keys) > 0 {
				n, err := client.Del(ctx, keys...).Result()
				if err != nil {
					return removed, err
				}
				removed += n
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
	}
	return removed, nil
}
