// Package qtest contains helpers shared by the module's tests.
package qtest
