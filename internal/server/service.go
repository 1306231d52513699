package server

import (
	"VaultLedger/internal/core"
	"VaultLedger/internal/event"
	"VaultLedger/internal/query"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/grpc"
)

const ServiceName = "vaultledger.v1.Ledger"

// Submitter applies commands. ingestion.IngestService is the production one.
type Submitter interface {
	Submit(ctx context.Context, et event.EventType, data []byte) (core.Result, error)
}

// Queries is the read surface. Both query.QueryService and
// query.CachedService satisfy it.
type Queries interface {
	GetVault(ctx context.Context, owner uuid.UUID) (*query.VaultResponse, error)
	GetRatio(ctx context.Context, owner uuid.UUID) (*query.RatioResponse, error)
	GetPoolSummary(ctx context.Context) (*query.PoolSummaryResponse, error)
	GetShareRecord(ctx context.Context, owner uuid.UUID) (*query.ShareRecordResponse, error)
	GetBalance(ctx context.Context, owner uuid.UUID, asset string) (*query.BalanceResponse, error)
	GetNextNonce(ctx context.Context, caller uuid.UUID) (*query.NonceResponse, error)
	GetState(ctx context.Context) (*query.StateResponse, error)
	GetJournalHistory(ctx context.Context, accountPath string, limit int, beforeSequence *int64) (*query.JournalHistoryPage, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

// AdminOps are the operator actions wired in by main. A nil func makes the
// matching call return ErrUnavailable.
type AdminOps struct {
	TakeSnapshot       func(ctx context.Context) (int64, error)
	RebuildProjections func(ctx context.Context) (int64, error)
	LastLoggedSequence func(ctx context.Context) (int64, error)
}

// --- Messages ---

type SubmitRequest struct {
	Type    string          `json:"type"`
	Command json.RawMessage `json:"command"`
}

type SubmitResponse struct {
	Sequence           int64 `json:"sequence"`
	Duplicate          bool  `json:"duplicate,omitempty"`
	Shares             int64 `json:"shares,omitempty"`
	CollateralReturned int64 `json:"collateral_returned,omitempty"`
	LiabilityReturned  int64 `json:"liability_returned,omitempty"`
}

type OwnerRequest struct {
	Owner string `json:"owner"`
}

type BalanceRequest struct {
	Owner string `json:"owner"`
	Asset string `json:"asset"`
}

type Empty struct{}

type ListJournalsRequest struct {
	Account string `json:"account"`
	Limit   int    `json:"limit,omitempty"`
	Before  *int64 `json:"before,omitempty"`
}

type SequenceResponse struct {
	Sequence int64 `json:"sequence"`
}

// LedgerAPI is the full RPC surface.
type LedgerAPI interface {
	Submit(context.Context, *SubmitRequest) (*SubmitResponse, error)
	GetVault(context.Context, *OwnerRequest) (*query.VaultResponse, error)
	GetRatio(context.Context, *OwnerRequest) (*query.RatioResponse, error)
	GetPoolSummary(context.Context, *Empty) (*query.PoolSummaryResponse, error)
	GetShareRecord(context.Context, *OwnerRequest) (*query.ShareRecordResponse, error)
	GetBalance(context.Context, *BalanceRequest) (*query.BalanceResponse, error)
	GetNextNonce(context.Context, *OwnerRequest) (*query.NonceResponse, error)
	GetState(context.Context, *Empty) (*query.StateResponse, error)
	ListJournals(context.Context, *ListJournalsRequest) (*query.JournalHistoryPage, error)
	VerifyIntegrity(context.Context, *Empty) (*query.IntegrityReport, error)
	TakeSnapshot(context.Context, *Empty) (*SequenceResponse, error)
	RebuildProjections(context.Context, *Empty) (*SequenceResponse, error)
	GetEventLogInfo(context.Context, *Empty) (*SequenceResponse, error)
}

// LedgerService implements LedgerAPI. Errors are returned unconverted; the
// gRPC and HTTP layers translate them.
type LedgerService struct {
	ingest  Submitter
	queries Queries
	admin   AdminOps
}

func NewLedgerService(ingest Submitter, queries Queries, admin AdminOps) *LedgerService {
	return &LedgerService{ingest: ingest, queries: queries, admin: admin}
}

func (s *LedgerService) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	et := event.ParseEventType(req.Type)
	if et == event.EventTypeUnknown {
		return nil, fmt.Errorf("%w: unknown command type %q", query.ErrInvalidArgument, req.Type)
	}
	if len(req.Command) == 0 {
		return nil, fmt.Errorf("%w: command is required", query.ErrInvalidArgument)
	}

	res, err := s.ingest.Submit(ctx, et, req.Command)
	if err != nil {
		return nil, err
	}
	return &SubmitResponse{
		Sequence:           res.Sequence,
		Duplicate:          res.Duplicate,
		Shares:             res.Shares,
		CollateralReturned: res.CollateralReturned,
		LiabilityReturned:  res.LiabilityReturned,
	}, nil
}

func (s *LedgerService) GetVault(ctx context.Context, req *OwnerRequest) (*query.VaultResponse, error) {
	owner, err := parseID("owner", req.Owner)
	if err != nil {
		return nil, err
	}
	return s.queries.GetVault(ctx, owner)
}

func (s *LedgerService) GetRatio(ctx context.Context, req *OwnerRequest) (*query.RatioResponse, error) {
	owner, err := parseID("owner", req.Owner)
	if err != nil {
		return nil, err
	}
	return s.queries.GetRatio(ctx, owner)
}

func (s *LedgerService) GetPoolSummary(ctx context.Context, _ *Empty) (*query.PoolSummaryResponse, error) {
	return s.queries.GetPoolSummary(ctx)
}

func (s *LedgerService) GetShareRecord(ctx context.Context, req *OwnerRequest) (*query.ShareRecordResponse, error) {
	owner, err := parseID("owner", req.Owner)
	if err != nil {
		return nil, err
	}
	return s.queries.GetShareRecord(ctx, owner)
}

func (s *LedgerService) GetBalance(ctx context.Context, req *BalanceRequest) (*query.BalanceResponse, error) {
	owner, err := parseID("owner", req.Owner)
	if err != nil {
		return nil, err
	}
	return s.queries.GetBalance(ctx, owner, req.Asset)
}

func (s *LedgerService) GetNextNonce(ctx context.Context, req *OwnerRequest) (*query.NonceResponse, error) {
	caller, err := parseID("owner", req.Owner)
	if err != nil {
		return nil, err
	}
	return s.queries.GetNextNonce(ctx, caller)
}

func (s *LedgerService) GetState(ctx context.Context, _ *Empty) (*query.StateResponse, error) {
	return s.queries.GetState(ctx)
}

func (s *LedgerService) ListJournals(ctx context.Context, req *ListJournalsRequest) (*query.JournalHistoryPage, error) {
	if req.Account == "" {
		return nil, fmt.Errorf("%w: account is required", query.ErrInvalidArgument)
	}
	return s.queries.GetJournalHistory(ctx, req.Account, req.Limit, req.Before)
}

func (s *LedgerService) VerifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	return s.queries.VerifyIntegrity(ctx)
}

// --- Admin ---

func (s *LedgerService) TakeSnapshot(ctx context.Context, _ *Empty) (*SequenceResponse, error) {
	return runAdmin(ctx, s.admin.TakeSnapshot)
}

func (s *LedgerService) RebuildProjections(ctx context.Context, _ *Empty) (*SequenceResponse, error) {
	return runAdmin(ctx, s.admin.RebuildProjections)
}

func (s *LedgerService) GetEventLogInfo(ctx context.Context, _ *Empty) (*SequenceResponse, error) {
	return runAdmin(ctx, s.admin.LastLoggedSequence)
}

func runAdmin(ctx context.Context, op func(context.Context) (int64, error)) (*SequenceResponse, error) {
	if op == nil {
		return nil, ErrUnavailable
	}
	seq, err := op(ctx)
	if err != nil {
		return nil, err
	}
	return &SequenceResponse{Sequence: seq}, nil
}

func parseID(field, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, fmt.Errorf("%w: %s is required", query.ErrInvalidArgument, field)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s: %v", query.ErrInvalidArgument, field, err)
	}
	return id, nil
}

// ============================================================================
// Service descriptor
// ============================================================================

// unary builds a method descriptor that decodes Req, calls the LedgerAPI
// method, and converts its error to a gRPC status.
func unary[Req any, Resp any](name string, call func(LedgerAPI, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, toStatus(fmt.Errorf("%w: %v", query.ErrInvalidArgument, err))
			}
			handler := func(ctx context.Context, req any) (any, error) {
				resp, err := call(srv.(LedgerAPI), ctx, req.(*Req))
				if err != nil {
					return nil, toStatus(err)
				}
				return resp, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// LedgerServiceDesc describes the Ledger service for grpc.Server.RegisterService.
var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerAPI)(nil),
	Methods: []grpc.MethodDesc{
		unary("Submit", LedgerAPI.Submit),
		unary("GetVault", LedgerAPI.GetVault),
		unary("GetRatio", LedgerAPI.GetRatio),
		unary("GetPoolSummary", LedgerAPI.GetPoolSummary),
		unary("GetShareRecord", LedgerAPI.GetShareRecord),
		unary("GetBalance", LedgerAPI.GetBalance),
		unary("GetNextNonce", LedgerAPI.GetNextNonce),
		unary("GetState", LedgerAPI.GetState),
		unary("ListJournals", LedgerAPI.ListJournals),
		unary("VerifyIntegrity", LedgerAPI.VerifyIntegrity),
		unary("TakeSnapshot", LedgerAPI.TakeSnapshot),
		unary("RebuildProjections", LedgerAPI.RebuildProjections),
		unary("GetEventLogInfo", LedgerAPI.GetEventLogInfo),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "vaultledger/v1/ledger",
}
