package main

import (
	"context"
)

func (cli *commandLine) seed() error {
	created, err := cli.schoolSvc.SeedClasses(context.Background())
	if err != nil {
		return err
	}
	if len(created) == 0 {
		cli.printf("All default classes already exist.\n")
		return nil
	}
	for _, cls := range created {
		cli.printf("Created class %q (term fee %s).\n", cls.Name, cls.TermFee.StringFixed(2))
	}
	return nil
}
