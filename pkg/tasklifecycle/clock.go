package tasklifecycle

import "time"

func currentTimeMillis() int64 {
	return time.Now().UnixMilli()
}
