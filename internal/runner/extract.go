package runner

import (
	"regexp"

	"github.com/andrej220/boardrun/internal/lg"
)

// Extract finds all non-overlapping matches of the request's result
// pattern in log. A pattern that does not compile is logged and yields no
// matches.
func Extract(log string, req CommandRequest, logger lg.Logger) []Match {
	re := req.ResultRegexp
	if re == nil {
		if req.ResultPattern == "" {
			return nil
		}
		var err error
		re, err = regexp.Compile(req.ResultPattern)
		if err != nil {
			logger.Error("result pattern", lg.String("pattern", req.ResultPattern), lg.Err(err))
			return nil
		}
	}
	return FindAll(re, log)
}

// FindAll returns every match of re in s: the whole match when re has no
// groups, otherwise the group values.
func FindAll(re *regexp.Regexp, s string) []Match {
	found := re.FindAllStringSubmatch(s, -1)
	if len(found) == 0 {
		return nil
	}
	out := make([]Match, 0, len(found))
	for _, sub := range found {
		if re.NumSubexp() == 0 {
			out = append(out, Match{sub[0]})
			continue
		}
		out = append(out, Match(sub[1:]))
	}
	return out
}
