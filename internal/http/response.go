package http

import "parchment/pkg/manuscript"

type Status string

const (
	// StatusOK is used for health-check responses.
	StatusOK Status = "OK"

	// StatusSuccess indicates an operation completed successfully.
	StatusSuccess Status = "success"

	// StatusError indicates an operation failed.
	StatusError Status = "error"
)

// PageView is the wire form of a page.
type PageView struct {
	Number uint64   `json:"number"`
	Offset uint64   `json:"offset"`
	Length uint64   `json:"length"`
	Values []uint64 `json:"values,omitempty"`
}

// Response represents the standard API response format.
type Response struct {
	Status   Status                   `json:"status,omitempty"`
	Page     *PageView                `json:"page,omitempty"`
	Pages    []manuscript.EntryStatus `json:"pages,omitempty"`
	Recycled []manuscript.IndexEntry  `json:"recycled,omitempty"`
	Error    string                   `json:"error,omitempty"`
}

func NewOKResponse() Response {
	return Response{Status: StatusOK}
}

func NewSuccessResponse() Response {
	return Response{Status: StatusSuccess}
}

func NewPageResponse(p manuscript.Page, values []uint64) Response {
	return Response{
		Status: StatusSuccess,
		Page: &PageView{
			Number: p.Number(),
			Offset: p.Offset(),
			Length: p.Length(),
			Values: values,
		},
	}
}

func NewPagesResponse(pages []manuscript.EntryStatus) Response {
	if pages == nil {
		pages = []manuscript.EntryStatus{}
	}
	return Response{Status: StatusSuccess, Pages: pages}
}

func NewRecycledResponse(entries []manuscript.IndexEntry) Response {
	return Response{Status: StatusSuccess, Recycled: entries}
}

func NewErrorResponse(err string) Response {
	return Response{Status: StatusError, Error: err}
}
