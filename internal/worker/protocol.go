// SPDX-License-Identifier: Apache-2.0

// Package worker implements C9: a single long-lived session owning the
// shadow database and serving requests over a length-prefixed JSON frame
// channel on stdin/stdout (§4.9, §6 "Request channel").
package worker

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sqlcheck/sqlcheck/internal/diag"
	"github.com/sqlcheck/sqlcheck/internal/model"
)

// Request tags, one per §4.9 request kind.
const (
	TagInitialize  = "INITIALIZE"
	TagUpdateViews = "UPDATE_VIEWS"
	TagCheckQuery  = "CHECK_QUERY"
	TagCheckInsert = "CHECK_INSERT"
	TagEnd         = "END"
	TagStats       = "STATS"
)

// Response tags: a successful Ok carries whatever Result the request kind
// produces; the two failure tags mirror §4.9's Either<Error, Result>.
const (
	TagOk                = "OK"
	TagInvalidQueryError = "INVALID_QUERY_ERROR"
	TagRunnerError       = "RUNNER_ERROR"
)

// Request is the wire envelope read off stdin. Exactly one of the payload
// fields is populated, selected by Tag.
type Request struct {
	Tag string `json:"tag"`

	Initialize  *InitializeRequest  `json:"initialize,omitempty"`
	UpdateViews *UpdateViewsRequest `json:"updateViews,omitempty"`
	CheckQuery  *CheckQueryRequest  `json:"checkQuery,omitempty"`
	CheckInsert *CheckInsertRequest `json:"checkInsert,omitempty"`
}

// Response is the wire envelope written to stdout.
type Response struct {
	Tag string `json:"tag"`

	Diagnostics []WireDiagnostic `json:"diagnostics,omitempty"`
	Message     string           `json:"message,omitempty"`
	Stats       *StatsResult     `json:"stats,omitempty"`
}

// okResponse builds a bare success response carrying no diagnostics.
func okResponse() Response { return Response{Tag: TagOk} }

// invalidQueryResponse builds an InvalidQueryError response carrying diags,
// the wire form of an answer's ToDiagnostics output.
func invalidQueryResponse(diags []diag.ErrorDiagnostic) Response {
	return Response{Tag: TagInvalidQueryError, Diagnostics: toWireDiagnostics(diags)}
}

// runnerErrorResponse builds a RunnerError response: the request could not
// be serviced at all (§4.9's RunnerError{message}), independent of whether
// the checked SQL itself is valid.
func runnerErrorResponse(err error) Response {
	return Response{Tag: TagRunnerError, Message: err.Error()}
}

// InitializeRequest carries everything the worker needs to (re)build the
// shadow database and its view set (§4.9 INITIALIZE, §6).
type InitializeRequest struct {
	ProjectDir             string                      `json:"projectDir"`
	ConfigFilePath         string                      `json:"configFilePath"`
	UniqueTableColumnTypes []WireUniqueTableColumnType `json:"uniqueTableColumnTypes"`
	StrictDateTimeChecking bool                        `json:"strictDateTimeChecking"`
	SqlViews               []WireSqlView               `json:"sqlViews"`
	Force                  bool                        `json:"force"`
}

// UpdateViewsRequest re-derives the view set from a fresh scan, dropping
// views no longer declared and creating any newly declared ones (§4.9
// UPDATE_VIEWS).
type UpdateViewsRequest struct {
	StrictDateTimeChecking bool          `json:"strictDateTimeChecking"`
	SqlViews               []WireSqlView `json:"sqlViews"`
}

// CheckQueryRequest carries one resolved SELECT to validate.
type CheckQueryRequest struct {
	Select WireResolvedSelect `json:"select"`
}

// CheckInsertRequest carries one resolved INSERT to validate.
type CheckInsertRequest struct {
	Insert WireResolvedInsert `json:"insert"`
}

// StatsResult is STATS's result payload: cache hit/miss counters plus the
// number of full shadow-database rebuilds this session has performed
// (§4.9 STATS, §2.3).
type StatsResult struct {
	QueryCacheHits    int `json:"queryCacheHits"`
	QueryCacheMisses  int `json:"queryCacheMisses"`
	InsertCacheHits   int `json:"insertCacheHits"`
	InsertCacheMisses int `json:"insertCacheMisses"`
	RebuildCount      int `json:"rebuildCount"`
}

// WireUniqueTableColumnType is model.UniqueTableColumnType's wire shape.
type WireUniqueTableColumnType struct {
	TypeScriptTypeName string `json:"typeScriptTypeName"`
	TableName          string `json:"tableName"`
	ColumnName         string `json:"columnName"`
}

func (w WireUniqueTableColumnType) toModel() model.UniqueTableColumnType {
	return model.UniqueTableColumnType{
		TypeScriptTypeName: model.TargetType(w.TypeScriptTypeName),
		TableName:          w.TableName,
		ColumnName:         w.ColumnName,
	}
}

// WireColType is model.ColType's wire shape: nullability rendered as "REQ"
// or "OPT" rather than the Go-side int constant.
type WireColType struct {
	Nullability string `json:"nullability"`
	Type        string `json:"type"`
}

func (w WireColType) toModel() model.ColType {
	n := model.Optional
	if w.Nullability == "REQ" {
		n = model.Required
	}
	return model.ColType{Nullability: n, Type: model.TargetType(w.Type)}
}

// WireSourceSpan is model.SourceSpan's wire shape.
type WireSourceSpan struct {
	StartOffset int `json:"startOffset"`
	EndOffset   int `json:"endOffset"`
}

func (w WireSourceSpan) toModel() model.SourceSpan {
	return model.SourceSpan{StartOffset: w.StartOffset, EndOffset: w.EndOffset}
}

// WireResolvedSelect is model.ResolvedSelect's wire shape. SourceMap is
// necessarily omitted: it is an in-process collaborator on the frontend
// side, not a value a JSON frame can carry, so diagnostics built from a
// wire-received request fall back to a whole-file span (answer.go's
// spanFromSourceSpan nil-map branch).
type WireResolvedSelect struct {
	Text            string                 `json:"text"`
	ColTypes        map[string]WireColType `json:"colTypes"`
	FileName        string                 `json:"fileName"`
	FileContents    string                 `json:"fileContents"`
	ColTypeSpan     WireSourceSpan         `json:"colTypeSpan"`
	QueryMethodName string                 `json:"queryMethodName"`
	IndentLevel     int                    `json:"indentLevel"`
}

func (w WireResolvedSelect) toModel() model.ResolvedSelect {
	colTypes := make(map[string]model.ColType, len(w.ColTypes))
	for name, ct := range w.ColTypes {
		colTypes[name] = ct.toModel()
	}
	return model.ResolvedSelect{
		Text:            w.Text,
		ColTypes:        colTypes,
		FileName:        w.FileName,
		FileContents:    w.FileContents,
		ColTypeSpan:     w.ColTypeSpan.toModel(),
		QueryMethodName: w.QueryMethodName,
		IndentLevel:     w.IndentLevel,
	}
}

// WireInsertColumn is model.InsertColumn's wire shape.
type WireInsertColumn struct {
	SuppliedType string `json:"suppliedType"`
	NotNull      bool   `json:"notNull"`
}

func (w WireInsertColumn) toModel() model.InsertColumn {
	return model.InsertColumn{SuppliedType: model.TargetType(w.SuppliedType), NotNull: w.NotNull}
}

// WireResolvedInsert is model.ResolvedInsert's wire shape.
type WireResolvedInsert struct {
	WireResolvedSelect

	TableName         string                      `json:"tableName"`
	TableNameExprSpan WireSourceSpan              `json:"tableNameExprSpan"`
	InsertExprSpan    WireSourceSpan              `json:"insertExprSpan"`
	InsertColumns     map[string]WireInsertColumn `json:"insertColumns"`
}

func (w WireResolvedInsert) toModel() model.ResolvedInsert {
	cols := make(map[string]model.InsertColumn, len(w.InsertColumns))
	for name, c := range w.InsertColumns {
		cols[name] = c.toModel()
	}
	return model.ResolvedInsert{
		ResolvedSelect:    w.WireResolvedSelect.toModel(),
		TableName:         w.TableName,
		TableNameExprSpan: w.TableNameExprSpan.toModel(),
		InsertExprSpan:    w.InsertExprSpan.toModel(),
		InsertColumns:     cols,
	}
}

// WireFragment is model.ViewFragment's wire shape.
type WireFragment struct {
	Text         string `json:"text,omitempty"`
	IsRef        bool   `json:"isRef,omitempty"`
	RefModule    string `json:"refModule,omitempty"`
	RefLocalName string `json:"refLocalName,omitempty"`
}

func (w WireFragment) toModel() model.ViewFragment {
	if w.IsRef {
		return model.RefFragment(model.QualifiedSqlViewName{Module: model.ModuleId(w.RefModule), LocalName: w.RefLocalName})
	}
	return model.StringFragment(w.Text)
}

// WireSqlView is model.SqlViewDefinition's wire shape, as scanned fresh by
// the frontend on every INITIALIZE/UPDATE_VIEWS call.
type WireSqlView struct {
	Module       string         `json:"module"`
	LocalName    string         `json:"localName"`
	VarName      string         `json:"varName"`
	FileName     string         `json:"fileName"`
	FileContents string         `json:"fileContents"`
	Fragments    []WireFragment `json:"fragments"`
}

func (w WireSqlView) toModel() *model.SqlViewDefinition {
	fragments := make([]model.ViewFragment, len(w.Fragments))
	for i, f := range w.Fragments {
		fragments[i] = f.toModel()
	}
	name := model.QualifiedSqlViewName{Module: model.ModuleId(w.Module), LocalName: w.LocalName}
	return model.NewSqlViewDefinition(name, w.VarName, w.FileName, w.FileContents, nil, fragments)
}

// WireSpan is diag.Span's wire shape.
type WireSpan struct {
	Kind    int `json:"kind"`
	Line    int `json:"line,omitempty"`
	Col     int `json:"col,omitempty"`
	EndLine int `json:"endLine,omitempty"`
	EndCol  int `json:"endCol,omitempty"`
}

// WireQuickFix is diag.QuickFix's wire shape.
type WireQuickFix struct {
	Name            string `json:"name"`
	ReplacementText string `json:"replacementText"`
}

// WireDiagnostic is diag.ErrorDiagnostic's wire shape.
type WireDiagnostic struct {
	FileName     string        `json:"fileName"`
	FileContents string        `json:"fileContents"`
	Span         WireSpan      `json:"span"`
	Messages     []string      `json:"messages"`
	Epilogue     string        `json:"epilogue,omitempty"`
	QuickFix     *WireQuickFix `json:"quickFix,omitempty"`
}

func toWireDiagnostics(diags []diag.ErrorDiagnostic) []WireDiagnostic {
	wire := make([]WireDiagnostic, len(diags))
	for i, d := range diags {
		wire[i] = WireDiagnostic{
			FileName:     d.FileName,
			FileContents: d.FileContents,
			Span: WireSpan{
				Kind:    int(d.Span.Kind),
				Line:    d.Span.Line,
				Col:     d.Span.Col,
				EndLine: d.Span.EndLine,
				EndCol:  d.Span.EndCol,
			},
			Messages: d.Messages,
			Epilogue: d.Epilogue,
		}
		if d.QuickFix != nil {
			wire[i].QuickFix = &WireQuickFix{Name: d.QuickFix.Name, ReplacementText: d.QuickFix.ReplacementText}
		}
	}
	return wire
}

// maxFrameSize guards against a corrupt or hostile length prefix causing an
// unbounded allocation.
const maxFrameSize = 64 * 1024 * 1024

// ReadFrame reads one length-prefixed JSON frame from r: a 4-byte
// big-endian length followed by that many bytes of JSON (§6 "Request
// channel realization").
func ReadFrame(r io.Reader, v interface{}) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return fmt.Errorf("frame length %d exceeds maximum %d", n, maxFrameSize)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("reading frame body: %w", err)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding frame: %w", err)
	}
	return nil
}

// WriteFrame writes v as one length-prefixed JSON frame to w.
func WriteFrame(w io.Writer, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))

	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	return nil
}
