// Package redis stores schedules and run logs in Redis through go-redis.
//
// Layout, with every key under the configured prefix:
//
//	<prefix>:schedule:<id>       JSON schedule
//	<prefix>:schedules           SET of schedule ids
//	<prefix>:log:seq             INCR counter for log ids
//	<prefix>:log:<id>            JSON run log
//	<prefix>:logs                ZSET of log ids scored by id
//	<prefix>:logs:task:<taskID>  ZSET of one schedule's log ids
//
// Multi-key writes go through a MULTI/EXEC pipeline. Logs are kept when a
// schedule is deleted.
package redis
