package tcp

import (
	"fmt"
	"hash/fnv"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/pomaicache/sidecar/internal/artifact"
	"github.com/pomaicache/sidecar/internal/cache"
	"github.com/pomaicache/sidecar/internal/cache/policy"
	"github.com/pomaicache/sidecar/internal/protocol"
)

// dispatch runs one already-parsed command under the shared engine
// mutex, then records slowlog/trace bookkeeping outside the lock.
func (s *Server) dispatch(cmd []string, cc *connCtx) string {
	if len(cmd) == 0 {
		return protocol.Error("empty command")
	}
	if cmd[0] == protocol.Malformed {
		s.totalErrors.Add(1)
		return protocol.Error("malformed request")
	}

	op := strings.ToUpper(cmd[0])
	start := time.Now()

	s.mu.Lock()
	reply := s.execute(op, cmd, cc)
	s.mu.Unlock()

	elapsed := time.Since(start)
	if elapsed >= slowlogThreshold {
		s.recordSlowlog(op, keyArg(cmd), elapsed)
	}
	if cc.traceOn {
		s.emitTrace(op, cmd, elapsed, cc, reply)
	}
	if strings.HasPrefix(reply, "-") {
		s.totalErrors.Add(1)
	}
	return reply
}

func (s *Server) execute(op string, cmd []string, cc *connCtx) string {
	switch op {
	case "PING":
		return protocol.Simple("PONG")
	case "SET":
		return s.cmdSet(cmd)
	case "GET":
		return s.cmdGet(cmd)
	case "MGET":
		return s.cmdMGet(cmd)
	case "DEL":
		return s.cmdDel(cmd)
	case "EXPIRE":
		return s.cmdExpire(cmd)
	case "TTL":
		return s.cmdTTL(cmd)
	case "INFO":
		return protocol.Bulk(s.engine.Info())
	case "CONFIG":
		return s.cmdConfig(cmd)
	case "SLOWLOG":
		return s.cmdSlowlog(cmd)
	case "TRACE":
		return s.cmdTrace(cmd, cc)
	case "DEBUG":
		return s.cmdDebug(cmd)
	case "AI.PUT":
		return s.cmdAIPut(cmd)
	case "AI.GET":
		return s.cmdAIGet(cmd)
	case "AI.MGET":
		return s.cmdAIMGet(cmd)
	case "AI.EMB.PUT":
		return s.cmdAIEmbPut(cmd)
	case "AI.EMB.GET":
		return s.cmdAIEmbGet(cmd)
	case "AI.INVALIDATE":
		return s.cmdAIInvalidate(cmd)
	case "AI.STATS":
		return protocol.Bulk(s.artifact.StatsReport())
	case "AI.TOP":
		return s.cmdAITop(cmd)
	case "AI.EXPLAIN":
		if len(cmd) != 2 {
			return protocol.Error("wrong number of arguments for AI.EXPLAIN")
		}
		return protocol.Bulk(s.artifact.Explain(cmd[1]))
	default:
		return protocol.Error("unknown command")
	}
}

func keyArg(cmd []string) string {
	if len(cmd) > 1 {
		return cmd[1]
	}
	return ""
}

func errKindName(k cache.Kind) string {
	switch k {
	case cache.KindInvalidArgument:
		return "invalid_key"
	case cache.KindValueTooLarge:
		return "value_too_large"
	case cache.KindQuotaExceeded:
		return "owner_quota_exceeded"
	case cache.KindAdmissionRejected:
		return "admission_rejected"
	case cache.KindNotFound:
		return "not_found"
	case cache.KindRateLimited:
		return "ssd_rate_limited"
	case cache.KindIOError:
		return "ssd_io"
	case cache.KindSSDFull:
		return "ssd_full"
	case cache.KindInvalidSchema:
		return "params_invalid_schema"
	default:
		return "error"
	}
}

func errMessage(err error) string {
	if ce, ok := err.(*cache.Error); ok {
		return errKindName(ce.Kind) + ": " + ce.Message
	}
	return err.Error()
}

func (s *Server) cmdSet(cmd []string) string {
	if len(cmd) < 3 {
		return protocol.Error("wrong number of arguments for SET")
	}
	key, value := cmd[1], cmd[2]
	owner := "default"
	var ttl *time.Duration

	i := 3
	for i < len(cmd) {
		switch strings.ToUpper(cmd[i]) {
		case "EX":
			if i+1 >= len(cmd) {
				return protocol.Error("syntax error")
			}
			n, err := strconv.ParseInt(cmd[i+1], 10, 64)
			if err != nil {
				return protocol.Error("invalid EX value")
			}
			d := time.Duration(n) * time.Second
			ttl = &d
			i += 2
		case "PX":
			if i+1 >= len(cmd) {
				return protocol.Error("syntax error")
			}
			n, err := strconv.ParseInt(cmd[i+1], 10, 64)
			if err != nil {
				return protocol.Error("invalid PX value")
			}
			d := time.Duration(n) * time.Millisecond
			ttl = &d
			i += 2
		case "OWNER":
			if i+1 >= len(cmd) {
				return protocol.Error("syntax error")
			}
			owner = cmd[i+1]
			i += 2
		default:
			return protocol.Error("syntax error")
		}
	}

	if err := s.engine.Set(key, []byte(value), ttl, owner); err != nil {
		return protocol.Error(errMessage(err))
	}
	return protocol.Simple("OK")
}

func (s *Server) cmdGet(cmd []string) string {
	if len(cmd) != 2 {
		return protocol.Error("wrong number of arguments for GET")
	}
	v, ok := s.engine.Get(cmd[1])
	if !ok {
		return protocol.Null()
	}
	return protocol.Bulk(string(v))
}

func (s *Server) cmdMGet(cmd []string) string {
	if len(cmd) < 2 {
		return protocol.Error("wrong number of arguments for MGET")
	}
	values := s.engine.MGet(cmd[1:])
	items := make([]string, len(values))
	for i, v := range values {
		if v == nil {
			items[i] = protocol.Null()
		} else {
			items[i] = protocol.Bulk(string(v))
		}
	}
	return protocol.Array(items)
}

func (s *Server) cmdDel(cmd []string) string {
	if len(cmd) < 2 {
		return protocol.Error("wrong number of arguments for DEL")
	}
	n := s.engine.Del(cmd[1:])
	return protocol.Integer(int64(n))
}

func (s *Server) cmdExpire(cmd []string) string {
	if len(cmd) != 3 {
		return protocol.Error("wrong number of arguments for EXPIRE")
	}
	secs, err := strconv.ParseUint(cmd[2], 10, 64)
	if err != nil {
		return protocol.Error("invalid seconds")
	}
	if s.engine.Expire(cmd[1], secs) {
		return protocol.Integer(1)
	}
	return protocol.Integer(0)
}

func (s *Server) cmdTTL(cmd []string) string {
	if len(cmd) != 2 {
		return protocol.Error("wrong number of arguments for TTL")
	}
	secs, ok := s.engine.TTL(cmd[1])
	if !ok {
		return protocol.Integer(-2)
	}
	return protocol.Integer(secs)
}

func (s *Server) cmdConfig(cmd []string) string {
	if len(cmd) < 2 {
		return protocol.Error("wrong number of arguments for CONFIG")
	}
	switch strings.ToUpper(cmd[1]) {
	case "GET":
		if len(cmd) != 3 {
			return protocol.Error("wrong number of arguments for CONFIG GET")
		}
		return protocol.Bulk(s.configGet(cmd[2]))
	case "SET":
		if len(cmd) < 4 {
			return protocol.Error("wrong number of arguments for CONFIG SET")
		}
		return s.configSet(cmd[2:])
	default:
		return protocol.Error("unknown CONFIG subcommand")
	}
}

func (s *Server) configGet(field string) string {
	switch strings.ToLower(field) {
	case "policy_mode":
		return s.engine.Policy().Name()
	case "policy_params_version":
		return s.engine.Policy().Params().Version
	case "canary_pct":
		return strconv.FormatUint(s.engine.CanaryPct(), 10)
	case "memory_used_bytes":
		return strconv.FormatUint(s.engine.MemoryUsed(), 10)
	case "memory_limit_bytes":
		return strconv.FormatUint(s.engine.MemoryLimitBytes(), 10)
	default:
		return ""
	}
}

func (s *Server) configSet(args []string) string {
	switch strings.ToUpper(args[0]) {
	case "POLICY":
		if len(args) != 2 {
			return protocol.Error("wrong number of arguments for CONFIG SET POLICY")
		}
		p, err := policy.Resolve(args[1])
		if err != nil {
			return protocol.Error(err.Error())
		}
		p.SetParams(s.engine.Policy().Params())
		s.engine.SetPolicy(p)
		return protocol.Simple("OK")
	case "CANARY_PCT":
		if len(args) != 2 {
			return protocol.Error("wrong number of arguments for CONFIG SET CANARY_PCT")
		}
		pct, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return protocol.Error("invalid canary_pct")
		}
		s.engine.SetCanaryPct(pct)
		return protocol.Simple("OK")
	case "PARAMS":
		if len(args) != 2 {
			return protocol.Error("wrong number of arguments for CONFIG SET PARAMS")
		}
		if err := s.engine.ReloadParams(args[1]); err != nil {
			return protocol.Error(errMessage(err))
		}
		return protocol.Simple("OK")
	case "ROLLBACK":
		if err := s.engine.RollbackToLKG(); err != nil {
			return protocol.Error(errMessage(err))
		}
		return protocol.Simple("OK")
	default:
		return protocol.Error("unknown CONFIG SET target")
	}
}

func (s *Server) cmdSlowlog(cmd []string) string {
	if len(cmd) < 2 {
		return protocol.Error("wrong number of arguments for SLOWLOG")
	}
	switch strings.ToUpper(cmd[1]) {
	case "GET":
		n := 10
		if len(cmd) >= 3 {
			if v, err := strconv.Atoi(cmd[2]); err == nil {
				n = v
			}
		}
		return protocol.Array(s.slowlogEntries(n))
	case "RESET":
		s.slowlogMu.Lock()
		s.slowlog = nil
		s.slowlogMu.Unlock()
		return protocol.Simple("OK")
	default:
		return protocol.Error("unknown SLOWLOG subcommand")
	}
}

func (s *Server) slowlogEntries(n int) []string {
	s.slowlogMu.Lock()
	defer s.slowlogMu.Unlock()
	start := len(s.slowlog) - n
	if start < 0 {
		start = 0
	}
	out := make([]string, 0, len(s.slowlog)-start)
	for _, e := range s.slowlog[start:] {
		out = append(out, protocol.Bulk(fmt.Sprintf("%s %s %dus", e.Op, e.Key, e.LatencyUs)))
	}
	return out
}

func (s *Server) recordSlowlog(op, key string, d time.Duration) {
	s.slowlogMu.Lock()
	defer s.slowlogMu.Unlock()
	capN := s.cfg.SlowlogCap
	if capN == 0 {
		capN = DefaultConfig().SlowlogCap
	}
	s.slowlog = append(s.slowlog, slowlogEntry{At: time.Now(), Op: op, Key: key, LatencyUs: d.Microseconds()})
	if len(s.slowlog) > capN {
		s.slowlog = s.slowlog[len(s.slowlog)-capN:]
	}
}

func (s *Server) cmdTrace(cmd []string, cc *connCtx) string {
	if len(cmd) != 3 || strings.ToUpper(cmd[1]) != "STREAM" {
		return protocol.Error("usage: TRACE STREAM ON|OFF")
	}
	switch strings.ToUpper(cmd[2]) {
	case "ON":
		cc.traceOn = true
		return protocol.Simple("OK")
	case "OFF":
		cc.traceOn = false
		return protocol.Simple("OK")
	default:
		return protocol.Error("usage: TRACE STREAM ON|OFF")
	}
}

// emitTrace logs a sampled per-op trace record rather than streaming it
// back over the reply channel, which would interleave with RESP framing;
// TRACE STREAM ON instead turns on sampled [TRACE] log lines for the
// connection's commands.
func (s *Server) emitTrace(op string, cmd []string, elapsed time.Duration, cc *connCtx, reply string) {
	every := s.cfg.TraceSampleEvery
	if every == 0 {
		every = DefaultConfig().TraceSampleEvery
	}
	if cc.reqCount%every != 0 {
		return
	}

	key := keyArg(cmd)
	valueSize := 0
	if len(cmd) > 2 {
		valueSize = len(cmd[2])
	}
	result := "ok"
	switch {
	case strings.HasPrefix(reply, "-"):
		result = "error"
	case reply == protocol.Null():
		result = "miss"
	}

	log.Printf("[TRACE] ts_ms=%d op=%s key_hash=%d value_size=%d ttl_class=n/a owner=default result=%s lat_bucket=%s policy_version=%s rng_seed=%s",
		time.Now().UnixMilli(), op, hashKey(key), valueSize, result, latBucket(elapsed),
		s.engine.Policy().Params().Version, cc.rngSeed)
}

func hashKey(key string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return h.Sum64()
}

func latBucket(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return "<1ms"
	case d < 5*time.Millisecond:
		return "1-5ms"
	default:
		return ">5ms"
	}
}

func (s *Server) cmdDebug(cmd []string) string {
	if len(cmd) < 2 {
		return protocol.Error("wrong number of arguments for DEBUG")
	}
	switch strings.ToUpper(cmd[1]) {
	case "DUMPSTATS":
		path := "pomai_dump_stats.txt"
		if len(cmd) >= 3 {
			path = cmd[2]
		}
		if err := s.engine.DumpStats(path); err != nil {
			return protocol.Error(err.Error())
		}
		return protocol.Simple("OK")
	default:
		return protocol.Error("unknown DEBUG subcommand")
	}
}

func (s *Server) cmdAIPut(cmd []string) string {
	if len(cmd) != 5 {
		return protocol.Error("wrong number of arguments for AI.PUT")
	}
	if err := s.artifact.Put(cmd[1], cmd[2], cmd[3], []byte(cmd[4])); err != nil {
		return protocol.Error(err.Error())
	}
	return protocol.Simple("OK")
}

func (s *Server) cmdAIGet(cmd []string) string {
	if len(cmd) != 2 {
		return protocol.Error("wrong number of arguments for AI.GET")
	}
	v, ok := s.artifact.Get(cmd[1])
	if !ok {
		return protocol.Null()
	}
	return protocol.Array([]string{protocol.Bulk(v.MetaJSON()), protocol.Bulk(string(v.Payload))})
}

func (s *Server) cmdAIMGet(cmd []string) string {
	if len(cmd) < 2 {
		return protocol.Error("wrong number of arguments for AI.MGET")
	}
	values := s.artifact.MGet(cmd[1:])
	items := make([]string, len(values))
	for i, v := range values {
		if v.Meta.ArtifactType == "" {
			items[i] = protocol.Null()
			continue
		}
		items[i] = protocol.Array([]string{protocol.Bulk(v.MetaJSON()), protocol.Bulk(string(v.Payload))})
	}
	return protocol.Array(items)
}

func (s *Server) cmdAIEmbPut(cmd []string) string {
	if len(cmd) != 7 {
		return protocol.Error("wrong number of arguments for AI.EMB.PUT")
	}
	dim, err := strconv.Atoi(cmd[3])
	if err != nil {
		return protocol.Error("invalid dim")
	}
	key := artifact.EmbeddingKey(cmd[1], cmd[2], dim, cmd[4])
	if err := s.artifact.Put("embedding", key, cmd[5], []byte(cmd[6])); err != nil {
		return protocol.Error(err.Error())
	}
	return protocol.Simple("OK")
}

func (s *Server) cmdAIEmbGet(cmd []string) string {
	if len(cmd) != 5 {
		return protocol.Error("wrong number of arguments for AI.EMB.GET")
	}
	dim, err := strconv.Atoi(cmd[3])
	if err != nil {
		return protocol.Error("invalid dim")
	}
	key := artifact.EmbeddingKey(cmd[1], cmd[2], dim, cmd[4])
	v, ok := s.artifact.Get(key)
	if !ok {
		return protocol.Null()
	}
	return protocol.Array([]string{protocol.Bulk(v.MetaJSON()), protocol.Bulk(string(v.Payload))})
}

func (s *Server) cmdAIInvalidate(cmd []string) string {
	if len(cmd) != 3 {
		return protocol.Error("wrong number of arguments for AI.INVALIDATE")
	}
	var n int
	switch strings.ToUpper(cmd[1]) {
	case "EPOCH":
		n = s.artifact.InvalidateEpoch(cmd[2])
	case "MODEL":
		n = s.artifact.InvalidateModel(cmd[2])
	case "PREFIX":
		n = s.artifact.InvalidatePrefix(cmd[2])
	default:
		return protocol.Error("unknown AI.INVALIDATE target")
	}
	return protocol.Integer(int64(n))
}

func (s *Server) cmdAITop(cmd []string) string {
	if len(cmd) < 2 {
		return protocol.Error("wrong number of arguments for AI.TOP")
	}
	n := 10
	if len(cmd) >= 3 {
		if v, err := strconv.Atoi(cmd[2]); err == nil {
			n = v
		}
	}
	switch strings.ToUpper(cmd[1]) {
	case "HOT":
		return protocol.Bulk(s.artifact.TopHot(n))
	case "COSTLY":
		return protocol.Bulk(s.artifact.TopCostly(n))
	default:
		return protocol.Error("unknown AI.TOP target")
	}
}
