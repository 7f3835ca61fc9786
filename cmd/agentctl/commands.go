package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentlink/agentlink/internal/bootstrap"
	agentclient "github.com/agentlink/agentlink/internal/client"
	"github.com/agentlink/agentlink/internal/client/callback"
	"github.com/agentlink/agentlink/internal/wire/message"
	"github.com/agentlink/agentlink/internal/wire/value"
)

// parseArg turns a "typeName:text" CLI argument into the encoded
// ObjectOrToken the wire protocol expects (spec.md §3). A bare value
// with no colon is treated as a string.
func parseArg(raw string) value.ObjectOrToken {
	typeName, text, ok := strings.Cut(raw, ":")
	if !ok {
		return value.Encoded("string", raw)
	}
	return value.Encoded(typeName, text)
}

func parseArgs(raws []string) []value.ObjectOrToken {
	if legacyEncoding {
		raws = roundTripLegacy(raws)
	}
	out := make([]value.ObjectOrToken, len(raws))
	for i, raw := range raws {
		out[i] = parseArg(raw)
	}
	return out
}

// roundTripLegacy exercises the historical query-string compatibility
// codec (internal/wire/message/compat.go) so --legacy-encoding is a real
// code path and not a dead flag: each positional argument is encoded
// into a query string keyed by its index and immediately decoded back.
func roundTripLegacy(raws []string) []string {
	params := make(map[string]string, len(raws))
	for i, raw := range raws {
		params[strconv.Itoa(i)] = raw
	}
	decoded, err := message.DecodeQueryString(message.EncodeQueryString(params))
	if err != nil {
		return raws
	}
	out := make([]string, len(raws))
	for i := range raws {
		out[i] = decoded[strconv.Itoa(i)]
	}
	return out
}

func printOOT(label string, v value.ObjectOrToken) {
	switch v.Kind {
	case value.OOTNull:
		fmt.Printf("%s: null\n", label)
	case value.OOTEncoded:
		fmt.Printf("%s: (%s) %s\n", label, v.EncTypeName, v.EncText)
	case value.OOTPinned:
		fmt.Printf("%s: pinned token=%d type=%s\n", label, v.Token, v.PinTypeName)
	case value.OOTTypeHandle:
		fmt.Printf("%s: type-handle %s, %s\n", label, v.FullName, v.Assembly)
	}
}

func dial(ctx context.Context) (*agentclient.Client, error) {
	return agentclient.Dial(ctx, addr)
}

func newPingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that an Agent is alive and responding",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := agentclient.WithDefaultTimeout(cmd.Context())
			defer cancel()
			c, err := dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()
			resp, err := c.Ping(ctx)
			if err != nil {
				return err
			}
			fmt.Println(resp.Status)
			return nil
		},
	}
}

func newDomainsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "domains",
		Short: "Show the Agent's application domain and its loaded modules",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := agentclient.WithDefaultTimeout(cmd.Context())
			defer cancel()
			c, err := dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()
			resp, err := c.Domains(ctx)
			if err != nil {
				return err
			}
			fmt.Println(resp.DomainName)
			for _, m := range resp.Modules {
				fmt.Println("  " + m)
			}
			return nil
		},
	}
}

func newTypesCommand() *cobra.Command {
	var assembly string
	cmd := &cobra.Command{
		Use:   "types",
		Short: "List loaded type full names, optionally filtered by assembly",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := agentclient.WithDefaultTimeout(cmd.Context())
			defer cancel()
			c, err := dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()
			resp, err := c.Types(ctx, assembly)
			if err != nil {
				return err
			}
			for _, t := range resp.Types {
				fmt.Println(t)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&assembly, "assembly", "", "restrict to a single assembly")
	return cmd
}

func newTypeCommand() *cobra.Command {
	var assembly string
	cmd := &cobra.Command{
		Use:   "type <full-name>",
		Short: "Describe a type's fields, properties, methods, constructors and events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := agentclient.WithDefaultTimeout(cmd.Context())
			defer cancel()
			c, err := dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()
			td, err := c.Type(ctx, assembly, args[0])
			if err != nil {
				return err
			}
			printTypeDescriptor(td)
			return nil
		},
	}
	cmd.Flags().StringVar(&assembly, "assembly", "", "restrict the search to a single assembly")
	return cmd
}

func printTypeDescriptor(td message.TypeDescriptor) {
	fmt.Printf("%s (%s)\n", td.FullName, td.Assembly)
	if td.BaseFullName != "" {
		fmt.Printf("  base: %s (%s)\n", td.BaseFullName, td.BaseAssembly)
	}
	for _, m := range td.Members {
		kind := [...]string{"field", "property", "method", "ctor", "event"}[m.Kind]
		static := ""
		if m.IsStatic {
			static = " static"
		}
		fmt.Printf("  %s%s %s\n", kind, static, m.Name)
	}
}

func newHeapCommand() *cobra.Command {
	var typeFilter string
	var dumpHashcodes bool
	cmd := &cobra.Command{
		Use:   "heap",
		Short: "Enumerate tracked objects, optionally filtered by type name",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := agentclient.WithDefaultTimeout(cmd.Context())
			defer cancel()
			c, err := dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()
			resp, err := c.Heap(ctx, typeFilter, dumpHashcodes)
			if err != nil {
				return err
			}
			for _, o := range resp.Objects {
				if o.HasHashcode {
					fmt.Printf("0x%x  %s  hash=%d\n", o.Address, o.Type, o.Hashcode)
				} else {
					fmt.Printf("0x%x  %s\n", o.Address, o.Type)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&typeFilter, "type", "", "only list objects of this type")
	cmd.Flags().BoolVar(&dumpHashcodes, "hashcodes", false, "include identity hashcodes")
	return cmd
}

func newObjectCommand() *cobra.Command {
	var pin bool
	cmd := &cobra.Command{
		Use:   "object <address>",
		Short: "Resolve a heap address to its live type, optionally pinning it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addrVal, err := strconv.ParseUint(args[0], 0, 64)
			if err != nil {
				return fmt.Errorf("invalid address %q: %w", args[0], err)
			}
			ctx, cancel := agentclient.WithDefaultTimeout(cmd.Context())
			defer cancel()
			c, err := dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()
			resp, err := c.Object(ctx, addrVal, pin)
			if err != nil {
				return err
			}
			fmt.Printf("token=%d\n", resp.Token)
			for _, m := range resp.Members {
				printOOT(m.Name, m.Value)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&pin, "pin", false, "pin the object and return a usable token")
	return cmd
}

func newInvokeCommand() *cobra.Command {
	var objAddress uint64
	var typeFullName string
	var genericArgs []string
	var forceUI bool
	cmd := &cobra.Command{
		Use:   "invoke <method> [typeName:value ...]",
		Short: "Invoke a method on a pinned instance, or a static method",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := agentclient.WithDefaultTimeout(cmd.Context())
			defer cancel()
			if forceUI {
				ctx = agentclient.WithForceUIThread(ctx)
			}
			c, err := dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()
			res, err := c.Invoke(ctx, objAddress, typeFullName, args[0], genericArgs, parseArgs(args[1:]))
			if err != nil {
				return err
			}
			if res.IsVoid {
				fmt.Println("(void)")
				return nil
			}
			printOOT("returned", res.Returned)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&objAddress, "object", 0, "instance address (0 for a static call)")
	cmd.Flags().StringVar(&typeFullName, "type", "", "declaring type full name")
	cmd.Flags().StringSliceVar(&genericArgs, "generic", nil, "generic type argument full names")
	cmd.Flags().BoolVar(&forceUI, "force-ui-thread", false, "marshal the call onto the Agent's synchronisation thread")
	return cmd
}

func newGetFieldCommand() *cobra.Command {
	var objAddress uint64
	cmd := &cobra.Command{
		Use:   "get-field <type> <field>",
		Short: "Read an instance or static field",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := agentclient.WithDefaultTimeout(cmd.Context())
			defer cancel()
			c, err := dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()
			res, err := c.GetField(ctx, objAddress, args[0], args[1])
			if err != nil {
				return err
			}
			printOOT("value", res.Returned)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&objAddress, "object", 0, "instance address (0 for a static field)")
	return cmd
}

func newSetFieldCommand() *cobra.Command {
	var objAddress uint64
	cmd := &cobra.Command{
		Use:   "set-field <type> <field> <typeName:value>",
		Short: "Write an instance or static field",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := agentclient.WithDefaultTimeout(cmd.Context())
			defer cancel()
			c, err := dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()
			return c.SetField(ctx, objAddress, args[0], args[1], parseArg(args[2]))
		},
	}
	cmd.Flags().Uint64Var(&objAddress, "object", 0, "instance address (0 for a static field)")
	return cmd
}

func newUnpinCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unpin <token>",
		Short: "Release a previously pinned object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := strconv.ParseUint(args[0], 0, 64)
			if err != nil {
				return fmt.Errorf("invalid token %q: %w", args[0], err)
			}
			ctx, cancel := agentclient.WithDefaultTimeout(cmd.Context())
			defer cancel()
			c, err := dial(ctx)
			if err != nil {
				return err
			}
			defer c.Close()
			return c.Unpin(ctx, tok)
		},
	}
}

func newSubscribeCommand() *cobra.Command {
	var objAddress uint64
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "subscribe <event-name>",
		Short: "Subscribe to an object's event and print callbacks until the duration elapses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			subCtx, subCancel := agentclient.WithDefaultTimeout(cmd.Context())
			defer subCancel()
			tok, err := c.SubscribeEvent(subCtx, objAddress, args[0], func(inv callback.Invocation) {
				fmt.Printf("event fired: %d args\n", len(inv.Args))
				for i, a := range inv.Args {
					printOOT(fmt.Sprintf("  arg[%d]", i), a)
				}
			})
			if err != nil {
				return err
			}
			fmt.Printf("subscribed, token=%d, waiting %s\n", tok, duration)
			time.Sleep(duration)

			unCtx, unCancel := agentclient.WithDefaultTimeout(cmd.Context())
			defer unCancel()
			return c.UnsubscribeEvent(unCtx, tok)
		},
	}
	cmd.Flags().Uint64Var(&objAddress, "object", 0, "object address whose event to subscribe to")
	cmd.Flags().DurationVar(&duration, "for", 10*time.Second, "how long to listen before unsubscribing")
	return cmd
}

func newHookCommand() *cobra.Command {
	var position string
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "hook <type> <method>",
		Short: "Install a method hook and print callbacks until the duration elapses",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pos, err := parseHookPosition(position)
			if err != nil {
				return err
			}
			c, err := dial(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			hookCtx, hookCancel := agentclient.WithDefaultTimeout(cmd.Context())
			defer hookCancel()
			tok, err := c.HookMethod(hookCtx, args[0], args[1], pos, func(inv callback.Invocation) {
				fmt.Printf("hook fired on %s.%s\n", args[0], args[1])
				for i, a := range inv.Args {
					printOOT(fmt.Sprintf("  arg[%d]", i), a)
				}
			})
			if err != nil {
				return err
			}
			fmt.Printf("hooked, token=%d, waiting %s\n", tok, duration)
			time.Sleep(duration)

			unCtx, unCancel := agentclient.WithDefaultTimeout(cmd.Context())
			defer unCancel()
			return c.UnhookMethod(unCtx, tok)
		},
	}
	cmd.Flags().StringVar(&position, "position", "prefix", "prefix, postfix, or finalizer")
	cmd.Flags().DurationVar(&duration, "for", 10*time.Second, "how long to listen before unhooking")
	return cmd
}

func parseHookPosition(s string) (message.HookPosition, error) {
	switch strings.ToLower(s) {
	case "prefix":
		return message.HookPrefix, nil
	case "postfix":
		return message.HookPostfix, nil
	case "finalizer":
		return message.HookFinalizer, nil
	default:
		return 0, fmt.Errorf("unknown hook position %q (want prefix, postfix, or finalizer)", s)
	}
}

func newDiscoverCommand() *cobra.Command {
	var pid int
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Look up a running Agent's address via its discovery handshake file",
		RunE: func(cmd *cobra.Command, args []string) error {
			d := bootstrap.NewDiscovery("")
			status, err := d.QueryStatus(cmd.Context(), bootstrap.Target{PID: pid})
			if err != nil {
				return err
			}
			fmt.Printf("addr=%s session=%s\n", status.Addr, status.SessionID)
			return nil
		},
	}
	cmd.Flags().IntVar(&pid, "pid", 0, "target process id (required)")
	cmd.MarkFlagRequired("pid")
	return cmd
}
