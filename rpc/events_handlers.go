package rpc

import (
	"reflexstake/journal"
)

type eventsParams struct {
	Type  string `json:"type,omitempty"`
	After int64  `json:"after,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

func (s *Server) eventsRecent(c *call) (interface{}, error) {
	if s.journal == nil {
		return nil, &RPCError{Code: codeUnavailable, Message: "event journal not configured"}
	}
	var params eventsParams
	if len(c.req.Params) > 0 {
		if err := decodeParams(c.req, &params); err != nil {
			return nil, err
		}
	}
	records, err := s.journal.Recent(c.ctx, journal.Query{Type: params.Type, After: params.After, Limit: params.Limit})
	if err != nil {
		return nil, err
	}
	return records, nil
}
