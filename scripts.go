package ratelimit

// The two atomic scripts are assembled from four fragments, mirroring
// how the algorithm is specified: unpacking arguments, the
// whitelist/blacklist short-circuit, the read-only limit check, and
// the increment. check_rate_limit stops after the check;
// check_limit_incr carries on into the increment fragment. Both run as
// a single indivisible unit on the store — splitting them client-side
// would reopen the race the atomicity exists to close.
const (
	scriptNameCheck = "check_rate_limit"
	scriptNameIncr  = "check_limit_incr"
)

const fragmentUnpackArgs = `
local rules = {}
do
  local raw = cjson.decode(ARGV[1])
  for idx = 1, #raw do
    local r = raw[idx]
    local interval = tonumber(r[1])
    local limit = tonumber(r[2])
    local precision = tonumber(r[3])
    if precision == nil or precision <= 0 or precision > interval then
      precision = interval
    end
    rules[idx] = { interval = interval, limit = limit, precision = precision }
  end
end
local now = tonumber(ARGV[2])
local weight = tonumber(ARGV[3])
local whitelist_key = ARGV[4]
local blacklist_key = ARGV[5]
`

const fragmentCheckWhitelistBlacklist = `
for i = 1, #KEYS do
  if redis.call('SISMEMBER', whitelist_key, KEYS[i]) == 1 then
    return 0
  end
end
for i = 1, #KEYS do
  if redis.call('SISMEMBER', blacklist_key, KEYS[i]) == 1 then
    return 2
  end
end
`

// fragmentCheckLimit is read-only: it never issues a write command.
const fragmentCheckLimit = `
for i = 1, #KEYS do
  local key = KEYS[i]
  for j = 1, #rules do
    local rule = rules[j]
    local window_start_bucket = math.floor((now - rule.interval) / rule.precision)
    local count_field = rule.interval .. ':' .. rule.precision .. ':'
    local count = tonumber(redis.call('HGET', key, count_field)) or 0
    local all = redis.call('HGETALL', key)
    for k = 1, #all, 2 do
      local fi, fp, fb = string.match(all[k], '^(%d+):(%d+):(%d+)$')
      if fi ~= nil and tonumber(fi) == rule.interval and tonumber(fp) == rule.precision then
        if tonumber(fb) < window_start_bucket then
          count = count - (tonumber(all[k + 1]) or 0)
        end
      end
    end
    if count < 0 then count = 0 end
    if count >= rule.limit then
      return 1
    end
  end
end
`

// fragmentCheckIncr runs only after fragmentCheckLimit found nothing to
// deny. For every key and rule it physically ages out expired buckets
// (always), lowering the count field by their weight, and tests the
// increment against the limit; only when no rule of any key would be
// exceeded does it increment the counters, so a denial leaves every
// current bucket and count untouched.
const fragmentCheckIncr = `
local max_interval = 0
for j = 1, #rules do
  if rules[j].interval > max_interval then
    max_interval = rules[j].interval
  end
end

for i = 1, #KEYS do
  local key = KEYS[i]
  for j = 1, #rules do
    local rule = rules[j]
    local window_start_bucket = math.floor((now - rule.interval) / rule.precision)
    local count_field = rule.interval .. ':' .. rule.precision .. ':'
    local count = tonumber(redis.call('HGET', key, count_field)) or 0

    local all = redis.call('HGETALL', key)
    local aged = false
    for k = 1, #all, 2 do
      local field = all[k]
      local fi, fp, fb = string.match(field, '^(%d+):(%d+):(%d+)$')
      if fi ~= nil and tonumber(fi) == rule.interval and tonumber(fp) == rule.precision then
        if tonumber(fb) < window_start_bucket then
          count = count - (tonumber(all[k + 1]) or 0)
          redis.call('HDEL', key, field)
          aged = true
        end
      end
    end
    if count < 0 then count = 0 end
    if aged then
      redis.call('HSET', key, count_field, count)
    end

    if count + weight > rule.limit then
      return 1
    end
  end
end

for i = 1, #KEYS do
  local key = KEYS[i]
  for j = 1, #rules do
    local rule = rules[j]
    local now_bucket = math.floor(now / rule.precision)
    local count_field = rule.interval .. ':' .. rule.precision .. ':'
    local bucket_field = rule.interval .. ':' .. rule.precision .. ':' .. now_bucket
    redis.call('HINCRBY', key, bucket_field, weight)
    redis.call('HINCRBY', key, count_field, weight)
  end
end

for i = 1, #KEYS do
  redis.call('EXPIRE', KEYS[i], max_interval)
end

return 0
`

var scriptCheckRateLimit = fragmentUnpackArgs + fragmentCheckWhitelistBlacklist + fragmentCheckLimit + "\nreturn 0\n"

var scriptCheckLimitIncr = fragmentUnpackArgs + fragmentCheckWhitelistBlacklist + fragmentCheckLimit + fragmentCheckIncr

func scriptBodies() map[string]string {
	return map[string]string{
		scriptNameCheck: scriptCheckRateLimit,
		scriptNameIncr:  scriptCheckLimitIncr,
	}
}
