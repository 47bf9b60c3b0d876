/*

Process of building

Assembly Text ->
	parse ->
Operation Stream (asm) ->
	assemble ->
Relocatable Object (obj) ->
	link ->
Hex Image (hex) or Relocatable Object (obj)

*/
package toolchain
