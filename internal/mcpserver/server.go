// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Ansuz tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/objectservice"
	"github.com/starford/ansuz/internal/query"
	"github.com/starford/ansuz/internal/store"
)

const modelURI = "ansuz://object-model"

// Server wraps the MCP server with Ansuz tools.
type Server struct {
	mcp *server.MCPServer
	svc *objectservice.Service
}

// New creates a new MCP server with all Ansuz tools registered.
func New(svc *objectservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Ansuz",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("get_object_model",
		mcp.WithDescription("Returns the object types, relation types and query format. "+
			"Call this before creating objects, relations or queries."),
	), s.getObjectModel)

	s.mcp.AddTool(mcp.NewTool("create_object",
		mcp.WithDescription("Create an object. It is linked to today's daily note automatically."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Object type, e.g. task, project, note")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Non-empty title")),
		mcp.WithString("content", mcp.Description("Optional free-form body")),
		mcp.WithString("properties", mcp.Description("Optional JSON object of properties")),
	), s.createObject)

	s.mcp.AddTool(mcp.NewTool("get_object",
		mcp.WithDescription("Read an object by id."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Object id")),
	), s.getObject)

	s.mcp.AddTool(mcp.NewTool("list_objects",
		mcp.WithDescription("List objects newest first, optionally filtered by type."),
		mcp.WithString("type", mcp.Description("Object type filter")),
		mcp.WithBoolean("archived", mcp.Description("List archived objects instead")),
		mcp.WithNumber("limit", mcp.Description("Page size (default 50)")),
		mcp.WithNumber("offset", mcp.Description("Page offset")),
	), s.listObjects)

	s.mcp.AddTool(mcp.NewTool("update_object",
		mcp.WithDescription("Partially update an object. Omitted fields keep their value."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Object id")),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("content", mcp.Description("New content")),
		mcp.WithString("properties", mcp.Description("JSON object replacing all properties")),
	), s.updateObject)

	s.mcp.AddTool(mcp.NewTool("archive_object",
		mcp.WithDescription("Archive or restore an object."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Object id")),
		mcp.WithBoolean("archived", mcp.Required(), mcp.Description("true to archive, false to restore")),
	), s.archiveObject)

	s.mcp.AddTool(mcp.NewTool("delete_object",
		mcp.WithDescription("Permanently delete an object and all of its relations."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Object id")),
	), s.deleteObject)

	s.mcp.AddTool(mcp.NewTool("create_relation",
		mcp.WithDescription("Create a directed, typed relation between two objects."),
		mcp.WithString("from_id", mcp.Required(), mcp.Description("Source object id")),
		mcp.WithString("to_id", mcp.Required(), mcp.Description("Target object id")),
		mcp.WithString("relation_type", mcp.Required(), mcp.Description("Relation type, e.g. blocks, parent_of")),
	), s.createRelation)

	s.mcp.AddTool(mcp.NewTool("find_relations",
		mcp.WithDescription("List the relations touching an object."),
		mcp.WithString("object_id", mcp.Required(), mcp.Description("Object id")),
		mcp.WithString("direction", mcp.Description("from, to or both (default both)")),
		mcp.WithString("relation_type", mcp.Description("Optional relation type filter")),
	), s.findRelations)

	s.mcp.AddTool(mcp.NewTool("tag_object",
		mcp.WithDescription("Tag an object by tag title. The tag is created when missing."),
		mcp.WithString("object_id", mcp.Required(), mcp.Description("Object id")),
		mcp.WithString("tag", mcp.Required(), mcp.Description("Tag title")),
	), s.tagObject)

	s.mcp.AddTool(mcp.NewTool("objects_by_tag",
		mcp.WithDescription("List the objects carrying a tag."),
		mcp.WithString("tag", mcp.Required(), mcp.Description("Tag title")),
	), s.objectsByTag)

	s.mcp.AddTool(mcp.NewTool("daily_note",
		mcp.WithDescription("Get or create the daily note for a date."),
		mcp.WithString("date", mcp.Description("YYYY-MM-DD, defaults to today (UTC)")),
	), s.dailyNote)

	s.mcp.AddTool(mcp.NewTool("timeline",
		mcp.WithDescription("List the objects created on a date."),
		mcp.WithString("date", mcp.Description("YYYY-MM-DD, defaults to today (UTC)")),
	), s.timeline)

	s.mcp.AddTool(mcp.NewTool("run_query",
		mcp.WithDescription("Run a saved query object."),
		mcp.WithString("query_id", mcp.Required(), mcp.Description("Query object id")),
	), s.runQuery)

	s.mcp.AddTool(mcp.NewTool("test_query",
		mcp.WithDescription("Run a query specification without saving it."),
		mcp.WithString("spec", mcp.Required(), mcp.Description("JSON query specification")),
	), s.testQuery)

	s.mcp.AddResource(
		mcp.NewResource(modelURI, "Object Model",
			mcp.WithResourceDescription("Object types, relation types and the query specification format."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readObjectModelResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// errorResult reports a failed call to the model. Validation, not-found and
// conflict errors carry their message; anything else is generic.
func errorResult(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrValidation),
		errors.Is(err, apperr.ErrNotFound),
		errors.Is(err, apperr.ErrConflict):
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError("internal error")
}

func parseProperties(raw string) (models.Properties, error) {
	if raw == "" {
		return nil, nil
	}
	var props models.Properties
	if err := json.Unmarshal([]byte(raw), &props); err != nil {
		return nil, apperr.Validation("properties must be a JSON object: %v", err)
	}
	return props, nil
}

func (s *Server) getObjectModel(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ObjectModelContract()), nil
}

func (s *Server) readObjectModelResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      modelURI,
			MIMEType: "text/markdown",
			Text:     ObjectModelContract(),
		},
	}, nil
}

func (s *Server) createObject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typ, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	props, err := parseProperties(req.GetString("properties", ""))
	if err != nil {
		return errorResult(err), nil
	}
	obj, err := s.svc.CreateObject(ctx, store.NewObject{
		Type:       models.ObjectType(typ),
		Title:      title,
		Content:    req.GetString("content", ""),
		Properties: props,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(obj)
}

func (s *Server) getObject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	obj, err := s.svc.GetObject(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(obj)
}

func (s *Server) listObjects(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f := store.ListFilter{Type: models.ObjectType(req.GetString("type", ""))}
	if archived := req.GetBool("archived", false); archived {
		f.Archived = &archived
	}
	page, err := s.svc.ListObjects(ctx, f, req.GetInt("limit", 0), req.GetInt("offset", 0))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(page)
}

func (s *Server) updateObject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := req.GetArguments()
	var p store.Patch
	if v, ok := args["title"].(string); ok {
		p.Title = &v
	}
	if v, ok := args["content"].(string); ok {
		p.Content = &v
	}
	if p.Properties, err = parseProperties(req.GetString("properties", "")); err != nil {
		return errorResult(err), nil
	}
	obj, err := s.svc.UpdateObject(ctx, id, p)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(obj)
}

func (s *Server) archiveObject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	archived, err := req.RequireBool("archived")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	obj, err := s.svc.ArchiveObject(ctx, id, archived)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(obj)
}

func (s *Server) deleteObject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.DeleteObject(ctx, id); err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", id)), nil
}

func (s *Server) createRelation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, err := req.RequireString("from_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	to, err := req.RequireString("to_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	relType, err := req.RequireString("relation_type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rel, err := s.svc.CreateRelation(ctx, store.NewRelation{
		FromID: from,
		ToID:   to,
		Type:   models.RelationType(relType),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(rel)
}

func (s *Server) findRelations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("object_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	dir := models.Direction(req.GetString("direction", string(models.DirectionBoth)))
	rels, err := s.svc.FindRelations(ctx, id, dir, models.RelationType(req.GetString("relation_type", "")))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(rels)
}

func (s *Server) tagObject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("object_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	title, err := req.RequireString("tag")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tag, err := s.svc.EnsureTag(ctx, title)
	if err != nil {
		return errorResult(err), nil
	}
	if _, err := s.svc.TagObject(ctx, id, tag.ID); err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("tagged %s with %q", id, tag.Title)), nil
}

func (s *Server) objectsByTag(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("tag")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tags, err := s.svc.Objects().FindByTitles(ctx, models.TypeTag, []string{title})
	if err != nil {
		return errorResult(err), nil
	}
	if len(tags) == 0 {
		return mcp.NewToolResultText("[]"), nil
	}
	objs, err := s.svc.ObjectsByTag(ctx, tags[0].ID)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(objs)
}

func (s *Server) dailyNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	note, err := s.svc.DailyNote(ctx, req.GetString("date", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(note)
}

func (s *Server) timeline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	objs, err := s.svc.Timeline(ctx, req.GetString("date", ""), false)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(objs)
}

func (s *Server) runQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("query_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	objs, err := s.svc.ExecuteQuery(ctx, id)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(objs)
}

func (s *Server) testQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("spec")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var spec query.Spec
	if err := json.Unmarshal([]byte(raw), &spec); err != nil {
		return errorResult(apperr.Validation("spec must be a JSON object: %v", err)), nil
	}
	objs, err := s.svc.TestQuery(ctx, spec)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(objs)
}
