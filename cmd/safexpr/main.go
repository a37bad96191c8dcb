package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/LukhasAI/safexpr"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Expression errors already printed themselves in Pretty form.
		if _, ok := err.(safexpr.Error); !ok {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "safexpr",
		Short:         "Evaluate sandboxed expressions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("vars", "", "JSON or YAML file with variable bindings")
	root.PersistentFlags().StringSlice("allow-attrs", nil, "attribute names the expression may access")
	root.PersistentFlags().Int("max-depth", safexpr.DefaultMaxDepth, "evaluation depth bound")

	root.AddCommand(
		evalCmd(),
		parseCmd(),
		replCmd(),
	)
	return root
}

func evalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval <expression>",
		Short: "Evaluate an expression and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vars, opts, err := setupFromFlags(cmd)
			if err != nil {
				return err
			}
			result, rerr := safexpr.Eval(args[0], vars, opts...)
			if rerr != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), rerr.Pretty(args[0]))
				return rerr
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			out, err := renderResult(result, asJSON)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "print the result as JSON")
	return cmd
}

func parseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parse <expression>",
		Short: "Parse an expression and print its tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ast, perr := safexpr.Parse(args[0])
			if perr != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), perr.Pretty(args[0]))
				return perr
			}
			if dot, _ := cmd.Flags().GetBool("dot"); dot {
				fmt.Fprintln(cmd.OutOrStdout(), "graph G {\n"+ast.Dot("")+"\n}")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), treeString(ast, ""))
			return nil
		},
	}
	cmd.Flags().Bool("dot", false, "print the tree in graphviz dot format")
	return cmd
}

func replCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Evaluate lines from standard input",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			vars, opts, err := setupFromFlags(cmd)
			if err != nil {
				return err
			}
			in := bufio.NewScanner(cmd.InOrStdin())
			out := cmd.OutOrStdout()
			fmt.Fprint(out, "> ")
			for in.Scan() {
				line := strings.TrimSpace(in.Text())
				if line == "exit" || line == "quit" {
					break
				}
				if line != "" {
					result, rerr := safexpr.Eval(line, vars, opts...)
					if rerr != nil {
						fmt.Fprintln(cmd.ErrOrStderr(), rerr.Pretty(line))
					} else {
						fmt.Fprintln(out, safexpr.Render(result))
					}
				}
				fmt.Fprint(out, "> ")
			}
			return in.Err()
		},
	}
}

func setupFromFlags(cmd *cobra.Command) (map[string]any, []safexpr.Option, error) {
	path, _ := cmd.Flags().GetString("vars")
	vars, err := loadVars(path)
	if err != nil {
		return nil, nil, err
	}
	attrs, _ := cmd.Flags().GetStringSlice("allow-attrs")
	depth, _ := cmd.Flags().GetInt("max-depth")
	opts := []safexpr.Option{safexpr.WithMaxDepth(depth)}
	if len(attrs) > 0 {
		opts = append(opts, safexpr.WithAttributeAccess(attrs...))
	}
	return vars, opts, nil
}

func loadVars(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	vars := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &vars); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &vars); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return vars, nil
}

func renderResult(v any, asJSON bool) (string, error) {
	if !asJSON {
		return safexpr.Render(v), nil
	}
	data, err := json.Marshal(jsonable(v))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// jsonable rewrites evaluator collection forms into shapes encoding/json
// accepts: tuples and sets become arrays, dict keys become strings.
func jsonable(v any) any {
	switch t := v.(type) {
	case safexpr.Tuple:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = jsonable(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = jsonable(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[safexpr.Render(k)] = jsonable(val)
		}
		return out
	case map[any]struct{}:
		keys := make([]string, 0, len(t))
		elems := make(map[string]any, len(t))
		for k := range t {
			s := safexpr.Render(k)
			keys = append(keys, s)
			elems[s] = jsonable(k)
		}
		sort.Strings(keys)
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = elems[k]
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = jsonable(val)
		}
		return out
	}
	return v
}

func nodeChildren(n *safexpr.Node) []*safexpr.Node {
	out := []*safexpr.Node{}
	if n.Left != nil {
		out = append(out, n.Left)
	}
	if n.Right != nil {
		out = append(out, n.Right)
	}
	for _, c := range n.List {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

func nodeLabel(n *safexpr.Node) string {
	switch n.Type {
	case safexpr.NodeLiteral:
		if s, ok := n.Value.(string); ok {
			return fmt.Sprintf("%q", s)
		}
		if n.Value == nil {
			return "null"
		}
		return fmt.Sprintf("%v", n.Value)
	case safexpr.NodeIdentifier, safexpr.NodeSign, safexpr.NodeAttribute, safexpr.NodeKeywordArg:
		return fmt.Sprintf("%s %v", n.Type, n.Value)
	case safexpr.NodeCompare:
		return "compare " + strings.Join(n.Ops, " ")
	}
	return n.Type.String()
}

func treeString(n *safexpr.Node, indent string) string {
	var sb strings.Builder
	sb.WriteString(indent)
	sb.WriteString(nodeLabel(n))
	sb.WriteByte('\n')
	for _, c := range nodeChildren(n) {
		sb.WriteString(treeString(c, indent+"  "))
	}
	return sb.String()
}
