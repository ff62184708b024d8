/*
Copyright 2024 The SnapDB Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"flag"
	"fmt"

	"go4.org/legal"
)

var flagLegal = flag.Bool("legal", false, "show licenses and exit")

func init() {
	legal.RegisterLicense(`SnapDB is licensed under the Apache License, Version 2.0:
http://www.apache.org/licenses/LICENSE-2.0`)
}

// printLicenses prints every license registered by go4.org/legal for
// this binary, including those of linked third-party packages.
func printLicenses() {
	for _, text := range legal.Licenses() {
		fmt.Println(text)
	}
}
