package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"

	"github.com/klipach/contactcast"
	"github.com/klipach/contactcast/config"
	"github.com/klipach/contactcast/contact"
)

// Lists the stored contacts, or adds one with -name.
// CONTACTCAST_STORE_DRIVER=postgres go run ./cmd/contacts
func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

// run returns the exit code so deferred cleanup still happens on failure.
func run(args []string, out io.Writer) int {
	flags := flag.NewFlagSet("contacts", flag.ContinueOnError)
	name := flags.String("name", "", "name of a contact to add")
	phone := flags.String("phone", "", "phone number of the added contact")
	email := flags.String("email", "", "email of the added contact")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		log.Printf("failed to load config: %v", err)
		return 1
	}

	store, closeStore, err := contactcast.OpenStore(ctx, cfg)
	if err != nil {
		log.Printf("failed to open store: %v", err)
		return 1
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Printf("failed to close store: %v", err)
		}
	}()

	client := contact.NewClient(store, cfg.Contacts.Limit, contact.BestEffort)
	var book contact.Book
	if err := client.Load(ctx, &book); err != nil {
		log.Printf("failed to list contacts: %v", err)
		return 1
	}

	if *name != "" {
		added, err := client.Add(ctx, &book, contact.Contact{Name: *name, PhoneNumber: *phone, Email: *email})
		if err != nil {
			log.Printf("failed to add contact: %v", err)
			return 1
		}
		if !added {
			log.Printf("contact not added: %d of %d contacts stored", book.Len(), client.Limit())
			return 1
		}
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPHONE\tEMAIL")
	for _, c := range book.Contacts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.Name, c.PhoneNumber, c.Email)
	}
	if err := w.Flush(); err != nil {
		log.Printf("failed to write output: %v", err)
		return 1
	}
	return 0
}
