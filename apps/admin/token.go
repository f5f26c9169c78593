package main

import (
	"fmt"

	echoapi "github.com/trezcool/calsync/apps/api/echo"
)

func (cli *commandLine) token(subject, email string) error {
	tok, err := echoapi.GenerateToken(cli.conf, echoapi.NewOperatorClaims(cli.conf, subject, email))
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, tok)
	return nil
}
