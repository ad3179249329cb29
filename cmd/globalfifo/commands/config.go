package commands

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haivivi/globalfifo/cmd/globalfifo/internal/config"
)

// serviceKeys lists the keys each service file understands.
var serviceKeys = map[string][]string{
	config.ServiceServer: {"listen", "path", "devices", "capacity", "socket"},
	config.ServiceClient: {"url", "timeout", "socket"},
}

func validateServiceKey(service, key string) error {
	keys, ok := serviceKeys[service]
	if !ok {
		return fmt.Errorf("unknown service %q: want %s or %s", service, config.ServiceServer, config.ServiceClient)
	}
	if key == "" {
		return nil
	}
	for _, k := range keys {
		if k == key {
			return nil
		}
	}
	return fmt.Errorf("unknown %s key %q: want one of %s", service, key, strings.Join(keys, ", "))
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage contexts and service configurations",
	Long: `Manage contexts and service configurations.

A context is a named directory holding server.yaml and client.yaml.

Examples:
  globalfifo config add-context lab
  globalfifo config use-context lab
  globalfifo config set lab server devices 4
  globalfifo config set lab client url ws://lab:7880/dev
  globalfifo config get lab client url
  globalfifo config list-contexts`,
}

var configListContextsCmd = &cobra.Command{
	Use:     "list-contexts",
	Aliases: []string{"ls"},
	Short:   "List all contexts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		names, err := cfg.ListContexts()
		if err != nil {
			return err
		}

		if structured() {
			return output(map[string]any{"current": cfg.CurrentContext, "contexts": names})
		}
		if len(names) == 0 {
			fmt.Println("No contexts configured.")
			fmt.Println("Create one with: globalfifo config add-context <name>")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CURRENT\tNAME\tSERVICES")
		for _, name := range names {
			current := ""
			if name == cfg.CurrentContext {
				current = "*"
			}
			services, _ := config.ListServices(cfg.ContextDir(name))
			fmt.Fprintf(w, "%s\t%s\t%s\n", current, name, strings.Join(services, ", "))
		}
		return w.Flush()
	},
}

// contextCmd builds a command that applies fn to the named context and
// prints done on success.
func contextCmd(use, short, done string, fn func(*config.Config, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := GetConfig()
			if err != nil {
				return err
			}
			if err := fn(cfg, args[0]); err != nil {
				return err
			}
			fmt.Printf(done+"\n", args[0])
			return nil
		},
	}
}

var (
	configAddContextCmd = contextCmd("add-context", "Create a new context",
		"Context %q created.", (*config.Config).AddContext)
	configDeleteContextCmd = contextCmd("delete-context", "Delete a context and all its service configs",
		"Context %q deleted.", (*config.Config).DeleteContext)
	configUseContextCmd = contextCmd("use-context", "Set the current context",
		"Switched to context %q.", (*config.Config).UseContext)
)

var configCurrentContextCmd = &cobra.Command{
	Use:   "current-context",
	Short: "Display the current context name",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		if cfg.CurrentContext == "" {
			fmt.Println("No current context set.")
			return nil
		}
		fmt.Println(cfg.CurrentContext)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <context> <service> <key> <value>",
	Short: "Set a service config value",
	Long: `Set a key in server.yaml or client.yaml of a context.

Examples:
  globalfifo config set lab server listen :7880
  globalfifo config set lab server capacity 1024
  globalfifo config set lab client timeout 2s`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		ctxName, service, key, value := args[0], args[1], args[2], args[3]
		if err := config.ValidateContextName(ctxName); err != nil {
			return err
		}
		if err := validateServiceKey(service, key); err != nil {
			return err
		}

		contextDir := cfg.ContextDir(ctxName)
		if _, err := os.Stat(contextDir); os.IsNotExist(err) {
			return fmt.Errorf("context %q not found", ctxName)
		}

		m, err := config.LoadService[map[string]any](contextDir, service)
		if err != nil {
			if _, statErr := os.Stat(cfg.ServicePath(ctxName, service)); !os.IsNotExist(statErr) {
				return fmt.Errorf("cannot read existing %s config: %w", service, err)
			}
			m = new(map[string]any)
		}
		if *m == nil {
			*m = map[string]any{}
		}
		// Numbers are stored as numbers so the typed loaders accept them.
		if n, err := strconv.Atoi(value); err == nil && (key == "devices" || key == "capacity") {
			(*m)[key] = n
		} else {
			(*m)[key] = value
		}

		if err := config.SaveService(contextDir, service, m); err != nil {
			return err
		}
		fmt.Printf("Set %s.%s = %s (context: %s)\n", service, key, value, ctxName)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <context> <service> <key>",
	Short: "Get a service config value",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		ctxName, service, key := args[0], args[1], args[2]
		if err := config.ValidateContextName(ctxName); err != nil {
			return err
		}
		if err := validateServiceKey(service, key); err != nil {
			return err
		}

		m, err := config.LoadService[map[string]any](cfg.ContextDir(ctxName), service)
		if err != nil {
			return err
		}
		val, ok := (*m)[key]
		if !ok {
			return fmt.Errorf("key %q not found in %s config", key, service)
		}
		fmt.Println(val)
		return nil
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit <context> <service>",
	Short: "Open a service config in $EDITOR",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		ctxName, service := args[0], args[1]
		if err := config.ValidateContextName(ctxName); err != nil {
			return err
		}
		if err := validateServiceKey(service, ""); err != nil {
			return err
		}

		if _, err := os.Stat(cfg.ContextDir(ctxName)); os.IsNotExist(err) {
			return fmt.Errorf("context %q not found", ctxName)
		}
		path := cfg.ServicePath(ctxName, service)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := os.WriteFile(path, []byte("# "+service+" configuration\n"), 0644); err != nil {
				return fmt.Errorf("create %s: %w", path, err)
			}
		}

		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = "vi"
		}
		c := exec.Command(editor, path)
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		return c.Run()
	},
}

func init() {
	configCmd.AddCommand(configListContextsCmd)
	configCmd.AddCommand(configAddContextCmd)
	configCmd.AddCommand(configDeleteContextCmd)
	configCmd.AddCommand(configUseContextCmd)
	configCmd.AddCommand(configCurrentContextCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configEditCmd)

	rootCmd.AddCommand(configCmd)
}
