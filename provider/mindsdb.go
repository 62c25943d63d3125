package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/tidwall/gjson"

	"github.com/coder/mcpbridge/config"
	"github.com/coder/mcpbridge/upstream"
)

const mindsdbMaxRows = 1000

// MindsDB runs SQL against a MindsDB instance and lists its databases,
// projects and models.
type MindsDB struct {
	base
}

var _ Provider = &MindsDB{}

func NewMindsDB(cfg config.MindsDB, opts upstream.Options) *MindsDB {
	return &MindsDB{
		base: newBase(config.ProviderMindsDB, cfg.BaseURL, "http://127.0.0.1:47334/api", upstream.OptionalBearerAuth(cfg.Key), opts),
	}
}

func (p *MindsDB) Instructions() string {
	return "Query data sources and ML models connected to MindsDB with SQL. " +
		"Use list_databases and list_models to discover what can be queried."
}

func (p *MindsDB) Tools() []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.NewTool(toolName(p.name, "query"),
				mcp.WithDescription("Run a SQL statement in MindsDB and return the resulting rows."),
				mcp.WithString("sql", mcp.Required(), mcp.Description("SQL statement, e.g. SELECT * FROM mindsdb.models."), mcp.MaxLength(10000)),
				mcp.WithString("database", mcp.Description("Default database for unqualified table names."), mcp.DefaultString("mindsdb")),
				mcp.WithNumber("max_rows", mcp.Description("Maximum number of rows to return."), mcp.Min(1), mcp.Max(mindsdbMaxRows), mcp.DefaultNumber(100)),
			),
			Handler: handle(p.query),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "list_databases"),
				mcp.WithDescription("List connected databases."),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.listDatabases),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "list_projects"),
				mcp.WithDescription("List projects."),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.listProjects),
		},
		{
			Tool: mcp.NewTool(toolName(p.name, "list_models"),
				mcp.WithDescription("List the models of a project with their training status."),
				mcp.WithString("project", mcp.Description("Project name."), mcp.DefaultString("mindsdb")),
				mcp.WithReadOnlyHintAnnotation(true),
			),
			Handler: handle(p.listModels),
		},
	}
}

func (p *MindsDB) query(ctx context.Context, a *argReader) (any, error) {
	sql := a.requireString("sql", 10000)
	db := orDefault(a.optionalString("database", 255), "mindsdb")
	maxRows := a.integer("max_rows", 100, 1, mindsdbMaxRows)
	if err := a.err(); err != nil {
		return nil, err
	}

	resp, err := p.client.Do(ctx, upstream.Request{
		Endpoint: "query",
		Method:   http.MethodPost,
		Path:     "/sql/query",
		JSON: map[string]any{
			"query":   sql,
			"context": map[string]any{"db": db},
		},
	})
	if err != nil {
		return nil, err
	}

	r := resp.JSON()
	switch r.Get("type").String() {
	case "error":
		return nil, fmt.Errorf("mindsdb: %s", orDefault(r.Get("error_message").String(), "query failed"))
	case "table":
	default:
		// DDL and DML statements answer {"type": "ok"}.
		return map[string]any{"ok": true}, nil
	}

	columns := []string{}
	r.Get("column_names").ForEach(func(_, c gjson.Result) bool {
		columns = append(columns, c.String())
		return true
	})

	rows := []map[string]any{}
	total := 0
	r.Get("data").ForEach(func(_, row gjson.Result) bool {
		total++
		if len(rows) >= maxRows {
			return true
		}
		values := row.Array()
		out := make(map[string]any, len(columns))
		for i, col := range columns {
			if i < len(values) {
				out[col] = values[i].Value()
			} else {
				out[col] = nil
			}
		}
		rows = append(rows, out)
		return true
	})

	return map[string]any{
		"columns":   columns,
		"rows":      rows,
		"row_count": total,
		"truncated": total > len(rows),
	}, nil
}

func (p *MindsDB) listDatabases(ctx context.Context, a *argReader) (any, error) {
	resp, err := p.client.Do(ctx, upstream.Request{Endpoint: "list_databases", Path: "/databases/"})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"databases": projectEach(resp.JSON(), "name", "name", "type", "type", "engine", "engine"),
	}, nil
}

func (p *MindsDB) listProjects(ctx context.Context, a *argReader) (any, error) {
	resp, err := p.client.Do(ctx, upstream.Request{Endpoint: "list_projects", Path: "/projects"})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"projects": projectEach(resp.JSON(), "name", "name"),
	}, nil
}

func (p *MindsDB) listModels(ctx context.Context, a *argReader) (any, error) {
	project := orDefault(a.optionalString("project", 255), "mindsdb")
	if err := a.err(); err != nil {
		return nil, err
	}

	resp, err := p.client.Do(ctx, upstream.Request{
		Endpoint: "list_models",
		Path:     "/projects/" + pathEscape(project) + "/models",
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"project": project,
		"models": projectEach(resp.JSON(),
			"name", "name",
			"status", "status",
			"engine", "engine",
			"version", "version",
			"predict", "predict",
			"accuracy", "accuracy",
			"error", "error",
		),
	}, nil
}
